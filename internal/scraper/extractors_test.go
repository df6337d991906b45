package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractWHO(t *testing.T) {
	page := []byte(`<ul>
		<li class="list-view--item"><a href="/news/item/1">  Mental health
			at work </a><p class="auto-summary">Summary one</p></li>
		<li class="list-view--item"><a>No link</a></li>
		<li class="list-view--item"><a href="/news/item/2"></a></li>
	</ul>`)
	got, err := ExtractWHO(nil, page)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Candidate{Title: "Mental health at work", URL: "/news/item/1", Summary: "Summary one"}, got[0])
}

func TestExtractPsychologyToday(t *testing.T) {
	page := []byte(`<div class="blog-listing">
		<div class="blog-item"><h2 class="blog-title">Coping</h2><a href="https://pt.example/c">read</a><div class="blog-summary">How to cope</div></div>
	</div>`)
	got, err := ExtractPsychologyToday(nil, page)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Coping", got[0].Title)
	assert.Equal(t, "https://pt.example/c", got[0].URL)
	assert.Equal(t, "How to cope", got[0].Summary)
}

func TestExtractAPA_Empty(t *testing.T) {
	got, err := ExtractAPA(nil, []byte(`<html><body>nothing here</body></html>`))
	require.NoError(t, err)
	assert.Empty(t, got)
}
