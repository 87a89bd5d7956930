package fasthash_test

import (
	"testing"

	"github.com/otterbrowser/contentblock/internal/fasthash"
	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	t.Parallel()

	assert.Zero(t, fasthash.String(""))
	assert.Equal(t, fasthash.String("adsby"), fasthash.Between("http://adsby.example", 7, 12))
	assert.NotEqual(t, fasthash.String("adsby"), fasthash.String("adsbz"))
}
