package browser

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
)

func TestBlockList(t *testing.T) {
	bl := newBlockList([]string{"images", " Fonts ", "XHR", ""})
	cases := []struct {
		typ  proto.NetworkResourceType
		want bool
	}{
		{proto.NetworkResourceTypeImage, true},
		{proto.NetworkResourceTypeFont, true},
		{proto.NetworkResourceTypeXHR, true},
		{proto.NetworkResourceTypeStylesheet, false},
		{proto.NetworkResourceTypeDocument, false},
	}
	for _, c := range cases {
		if got := bl.blocks(c.typ); got != c.want {
			t.Errorf("blocks(%s): got %v, want %v", c.typ, got, c.want)
		}
	}
	if len(bl) != 3 {
		t.Errorf("entries: got %d, want 3", len(bl))
	}
	if blockResources(nil, newBlockList(nil)) != nil {
		t.Error("empty list must not install a router")
	}
}
