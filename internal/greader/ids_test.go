package greader_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bryan-buckman/feedsync/internal/greader"
	"github.com/bryan-buckman/feedsync/internal/model"
)

func TestItemIDRoundTrip(t *testing.T) {
	for _, id := range []int64{0, 1, 255, 1 << 40, 1<<63 - 1} {
		encoded := greader.EncodeItemID(id)
		assert.Len(t, encoded, len(greader.ItemIDPrefix)+16)
		assert.Equal(t, id, greader.DecodeItemID(encoded))
	}
	assert.Equal(t, "tag:google.com,2005:reader/item/00000000000000ff", greader.EncodeItemID(255))
}

func TestDecodeItemID(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected int64
	}{
		{name: "long form is hex", in: "tag:google.com,2005:reader/item/0000000000000010", expected: 16},
		{name: "short form is decimal", in: "10", expected: 10},
		{name: "bad hex", in: "tag:google.com,2005:reader/item/zz", expected: greader.InvalidID},
		{name: "garbage", in: "hello", expected: greader.InvalidID},
		{name: "empty", in: "", expected: greader.InvalidID},
		{name: "negative", in: "-4", expected: greader.InvalidID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, greader.DecodeItemID(tt.in))
		})
	}
}

func TestDecodeItemIDsDropsInvalid(t *testing.T) {
	ids := greader.DecodeItemIDs([]string{"1", "bogus", greader.EncodeItemID(2), "1"})
	assert.Equal(t, []int64{1, 2}, ids)
}

func TestClassifyFilter(t *testing.T) {
	tests := []struct {
		stream, exclude string
		expected        model.Filter
	}{
		{"user/-/state/com.google/starred", "", model.FilterStarred},
		{"user/1001/state/com.google/starred", "user/-/state/com.google/read", model.FilterStarred},
		{"user/-/state/com.google/read", "", model.FilterRead},
		{"user/-/state/com.google/reading-list", "user/-/state/com.google/read", model.FilterUnread},
		{"user/-/state/com.google/reading-list", "", model.FilterAll},
		{"feed/https://example.com/rss", "user/-/state/com.google/kept-unread", model.FilterAll},
	}

	for _, tt := range tests {
		t.Run(tt.stream+"|"+tt.exclude, func(t *testing.T) {
			assert.Equal(t, tt.expected, greader.ClassifyFilter(tt.stream, tt.exclude))
		})
	}
}

func TestItemCategories(t *testing.T) {
	assert.Equal(t, []string{greader.StreamReadingList, greader.StreamFresh},
		greader.ItemCategories(model.Item{}))
	assert.Equal(t, []string{greader.StreamReadingList, greader.StreamRead, greader.StreamStarred},
		greader.ItemCategories(model.Item{Read: true, Starred: true}))
}

func TestParseLabel(t *testing.T) {
	label, ok := greader.ParseLabel("user/-/label/Tech")
	assert.True(t, ok)
	assert.Equal(t, "Tech", label)

	label, ok = greader.ParseLabel("user/1001/label/News/World")
	assert.True(t, ok)
	assert.Equal(t, "News/World", label)

	for _, tag := range []string{"user/-/state/com.google/read", "label/Tech", "user/-/label/", "feed/x"} {
		_, ok := greader.ParseLabel(tag)
		assert.False(t, ok, tag)
	}
	assert.Equal(t, "user/1001/label/Tech", greader.LabelID("1001", "Tech"))
}
