// ABOUTME: Tests for version constants
// ABOUTME: Ensures version information is properly defined
package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentifiersDefined(t *testing.T) {
	for name, v := range map[string]string{
		"Version":      Version,
		"Product":      Product,
		"Manufacturer": Manufacturer,
	} {
		t.Run(name, func(t *testing.T) {
			assert.NotEmpty(t, v)
			assert.Less(t, len(v), 100, "unreasonably long")
			for _, placeholder := range []string{"TODO", "FIXME", "XXX", "placeholder"} {
				assert.NotEqual(t, placeholder, v)
			}
		})
	}
}

func TestString(t *testing.T) {
	s := String()
	assert.True(t, strings.HasPrefix(s, Product+" "))
	assert.True(t, strings.HasSuffix(s, Version))
}
