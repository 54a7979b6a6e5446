package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCursorPage(t *testing.T) {
	items := []int{5, 4, 3}

	page, info, err := BuildCursorPage(items, 2, func(v int) Cursor {
		return Cursor{ID: string(rune('0' + v))}
	})
	require.NoError(t, err)
	assert.Equal(t, []int{5, 4}, page)
	assert.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, "4", cursor.ID)

	page, info, err = BuildCursorPage(items, 3, func(v int) Cursor { return Cursor{} })
	require.NoError(t, err)
	assert.Len(t, page, 3)
	assert.False(t, info.HasMore)
}

func TestPaginationLimit(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Limit())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 10_000}.Limit())
	assert.Equal(t, 7, Pagination{PageSize: 7}.Limit())
}
