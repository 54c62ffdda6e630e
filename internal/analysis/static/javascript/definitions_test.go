package javascript

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckIfSinkFunction_ExactPaths(t *testing.T) {
	def, ok := CheckIfSinkFunction([]string{"window", "eval"})
	assert.True(t, ok)
	assert.Equal(t, "eval", def.Name)
	assert.Equal(t, SinkTypeExecution, def.Type)

	_, ok = CheckIfSinkFunction([]string{"parser", "eval"})
	assert.False(t, ok, "method named eval on an arbitrary object is not the global eval")

	def, ok = CheckIfSinkFunction([]string{"document", "writeln"})
	assert.True(t, ok)
	assert.Equal(t, "document.write", def.Name)

	_, ok = CheckIfSinkFunction(nil)
	assert.False(t, ok)
}

func TestSinkDefinition_SensitiveArgs(t *testing.T) {
	args := []*Node{
		newNode(KindStringLiteral, 0, 1),
		newNode(KindLiteral, 2, 3),
		newNode(KindIdentifier, 4, 5),
	}
	testCases := []struct {
		name     string
		path     []string
		expected []*Node
	}{
		{"timer checks the callback only", []string{"setTimeout"}, args[:1]},
		{"document.write checks every argument", []string{"document", "write"}, args},
		{"eval checks its source", []string{"eval"}, args[:1]},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			def, ok := CheckIfSinkFunction(tc.path)
			assert.True(t, ok)
			assert.Equal(t, tc.expected, def.SensitiveArgs(args))
		})
	}

	timer, _ := CheckIfSinkFunction([]string{"setInterval"})
	assert.Empty(t, timer.SensitiveArgs(nil), "indices past the end are skipped")
}

func TestCheckIfURLSource(t *testing.T) {
	src, ok := CheckIfURLSource([]string{"window", "location", "search"})
	assert.True(t, ok)
	assert.Equal(t, SourceLocationSearch, src)

	_, ok = CheckIfURLSource([]string{"location", "reload"})
	assert.False(t, ok)
}

func TestNameHeuristics(t *testing.T) {
	assert.True(t, LooksLikeParamObject("params"))
	assert.True(t, LooksLikeParamObject("urlQuery"))
	assert.True(t, LooksLikeParamObject("searchParams"))
	assert.False(t, LooksLikeParamObject("cache"))

	assert.True(t, LooksLikeCredentialKey("userPassword"))
	assert.True(t, LooksLikeCredentialKey("API_KEY"))
	assert.False(t, LooksLikeCredentialKey("theme"))

	assert.True(t, IsOwnershipCheck([]string{"Object", "prototype", "hasOwnProperty"}))
	assert.True(t, IsOwnershipCheck([]string{"Object", "hasOwn"}))
	assert.False(t, IsOwnershipCheck([]string{"Object", "keys"}))

	assert.True(t, IsDangerousKey("__proto__"))
	assert.False(t, IsDangerousKey("name"))
}

func TestSanitizerSet(t *testing.T) {
	var empty SanitizerSet
	assert.False(t, empty.Matches([]string{"DOMPurify", "sanitize"}), "zero value recognises nothing")

	set := NewSanitizerSet([]string{"DOMPurify.sanitize", " encodeURIComponent ", ""})
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Matches([]string{"DOMPurify", "sanitize"}))
	assert.True(t, set.Matches([]string{"window", "encodeURIComponent"}))
	assert.False(t, set.Matches([]string{"purifier", "sanitize"}))
	assert.False(t, set.Matches(nil))
}

// TestGlobalDefinitions_Concurrency verifies that the lookup maps are safe for
// concurrent read access from parallel scans.
func TestGlobalDefinitions_Concurrency(t *testing.T) {
	t.Parallel()

	set := NewSanitizerSet([]string{"DOMPurify.sanitize"})
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = set.Matches([]string{"DOMPurify", "sanitize"})
			_, _ = CheckIfHTMLSinkProperty("innerHTML")
			_, _ = CheckIfURLSource([]string{"location", "hash"})
			_, _ = CheckIfSinkFunction([]string{"eval"})
			_ = IsOwnershipCheck([]string{"hasOwnProperty"})
		}()
	}
	wg.Wait()
}
