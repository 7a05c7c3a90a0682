package pdfsplit

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrategyChunkSize(t *testing.T) {
	s := DefaultStrategy()

	tests := []struct {
		pages int
		want  int
	}{
		{1, 30},
		{30, 30},
		{31, 20},
		{100, 20},
		{101, 15},
		{500, 15},
		{501, 25},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, s.ChunkSize(tc.pages), "pages=%d", tc.pages)
	}
}

func TestStrategyPlan(t *testing.T) {
	s := DefaultStrategy()

	t.Run("small document is a single chunk", func(t *testing.T) {
		ranges := s.Plan(12)
		require.Len(t, ranges, 1)
		assert.Equal(t, 1, ranges[0].StartPage)
		assert.Equal(t, 12, ranges[0].EndPage)
		assert.False(t, ranges[0].HasOverlap)
	})

	t.Run("40 pages split into two chunks with one-page overlap", func(t *testing.T) {
		ranges := s.Plan(40)
		require.Len(t, ranges, 2)

		assert.Equal(t, PageRange{Index: 0, StartPage: 1, EndPage: 20}, ranges[0])
		assert.Equal(t, PageRange{Index: 1, StartPage: 20, EndPage: 40, HasOverlap: true}, ranges[1])
	})

	t.Run("adjacent chunks share exactly one page", func(t *testing.T) {
		ranges := s.Plan(300)
		require.Greater(t, len(ranges), 2)
		for i := 1; i < len(ranges); i++ {
			assert.True(t, ranges[i].HasOverlap, "chunk %d", i)
			assert.Equal(t, ranges[i-1].EndPage, ranges[i].StartPage, "chunk %d starts on previous end page", i)
		}
	})

	t.Run("ranges cover all pages in order", func(t *testing.T) {
		for _, pages := range []int{1, 31, 99, 101, 499, 777} {
			ranges := s.Plan(pages)
			require.NotEmpty(t, ranges)
			assert.Equal(t, 1, ranges[0].StartPage)
			assert.Equal(t, pages, ranges[len(ranges)-1].EndPage)
			for i, r := range ranges {
				assert.Equal(t, i, r.Index)
				assert.LessOrEqual(t, r.StartPage, r.EndPage)
			}
		}
	})

	t.Run("zero pages yields no ranges", func(t *testing.T) {
		assert.Nil(t, s.Plan(0))
	})
}

func TestSplitDocument(t *testing.T) {
	s := NewDefault()

	doc := &Document{PageCount: 40, PageText: make([]string, 40)}
	for i := range doc.PageText {
		doc.PageText[i] = pageText(i + 1)
	}

	specs := s.Split(doc)
	require.Len(t, specs, 2)

	assert.Contains(t, specs[0].Text, pageText(1))
	assert.Contains(t, specs[0].Text, pageText(20))
	assert.NotContains(t, specs[0].Text, pageText(21))

	// Second chunk re-reads the overlap page.
	assert.True(t, specs[1].HasOverlap)
	assert.Contains(t, specs[1].Text, pageText(20))
	assert.Contains(t, specs[1].Text, pageText(40))

	for _, spec := range specs {
		assert.Equal(t, len(spec.Text), spec.SizeBytes)
	}
}

func TestSplitText(t *testing.T) {
	t.Run("splits at paragraph boundary", func(t *testing.T) {
		first, second := SplitText("Première partie du texte.\n\nSeconde partie du texte, un peu plus longue.")
		assert.NotEmpty(t, first)
		assert.NotEmpty(t, second)
		assert.NotContains(t, first, "Seconde")
	})

	t.Run("uses a boundary before the midpoint when none follows", func(t *testing.T) {
		first, second := SplitText("Un. Deuxdeuxdeuxdeuxdeuxdeux")
		assert.Equal(t, "Un.", first)
		assert.Equal(t, "Deuxdeuxdeuxdeuxdeuxdeux", second)
	})

	t.Run("picks the separator closest to the midpoint", func(t *testing.T) {
		first, second := SplitText("Alpha. Bravo bravo bravo. Charlie charlie.")
		assert.Equal(t, "Alpha. Bravo bravo bravo.", first)
		assert.Equal(t, "Charlie charlie.", second)
	})

	t.Run("empty second half for tiny input", func(t *testing.T) {
		first, second := SplitText("a")
		assert.Equal(t, "a", first)
		assert.Empty(t, second)
	})
}

func pageText(page int) string {
	return "Texte de la page numéro " + strconv.Itoa(page) + "."
}
