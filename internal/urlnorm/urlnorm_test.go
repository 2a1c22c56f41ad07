package urlnorm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idlharvest/internal/urlnorm"
)

func TestCanonicalize(t *testing.T) {
	t.Run("SchemeAndSlashVariantsCollapse", func(t *testing.T) {
		out, err := urlnorm.Canonicalize([]string{"http://a.com", "https://a.com/"})
		require.NoError(t, err)
		assert.Equal(t, []string{"https://a.com/"}, out)
	})

	t.Run("ExactDuplicatesCollapse", func(t *testing.T) {
		out, err := urlnorm.Canonicalize([]string{"http://a.com/x", "http://a.com/x"})
		require.NoError(t, err)
		assert.Equal(t, []string{"http://a.com/x"}, out)
	})

	t.Run("HTTPSPreferredWhenBothSeen", func(t *testing.T) {
		out, err := urlnorm.Canonicalize([]string{"http://a.com/x", "https://a.com/x"})
		require.NoError(t, err)
		assert.Equal(t, []string{"https://a.com/x"}, out)
	})

	t.Run("SlashFormPreferred", func(t *testing.T) {
		out, err := urlnorm.Canonicalize([]string{"http://a.com/x", "http://a.com/x/"})
		require.NoError(t, err)
		assert.Equal(t, []string{"http://a.com/x/"}, out)
	})

	t.Run("SchemeCarriedAcrossSlashMerge", func(t *testing.T) {
		// https observed only on the non-slash variant still wins.
		out, err := urlnorm.Canonicalize([]string{"https://a.com/x", "http://a.com/x/"})
		require.NoError(t, err)
		assert.Equal(t, []string{"https://a.com/x/"}, out)
	})

	t.Run("DistinctURLsSurvive", func(t *testing.T) {
		out, err := urlnorm.Canonicalize([]string{
			"https://a.com/x/",
			"http://b.org/idl",
			"https://c.net/spec/",
		})
		require.NoError(t, err)
		assert.Len(t, out, 3)
	})

	t.Run("Idempotent", func(t *testing.T) {
		first, err := urlnorm.Canonicalize([]string{
			"http://a.com", "https://a.com/", "http://b.org/x", "https://b.org/x/",
		})
		require.NoError(t, err)
		second, err := urlnorm.Canonicalize(first)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("MalformedURLRejected", func(t *testing.T) {
		_, err := urlnorm.Canonicalize([]string{"ftp://a.com/x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ftp://a.com/x")

		_, err = urlnorm.Canonicalize([]string{"not a url"})
		assert.Error(t, err)
	})

	t.Run("EmptyInput", func(t *testing.T) {
		out, err := urlnorm.Canonicalize(nil)
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}
