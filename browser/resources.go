package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Configuration uses plural names; anything else is taken as a CDP type.
var blockAliases = map[string]proto.NetworkResourceType{
	"images":      proto.NetworkResourceTypeImage,
	"fonts":       proto.NetworkResourceTypeFont,
	"media":       proto.NetworkResourceTypeMedia,
	"stylesheets": proto.NetworkResourceTypeStylesheet,
	"scripts":     proto.NetworkResourceTypeScript,
}

// blockList is a set of lowercased CDP resource types.
type blockList map[string]struct{}

func newBlockList(names []string) blockList {
	bl := make(blockList, len(names))
	for _, n := range names {
		key := strings.ToLower(strings.TrimSpace(n))
		if key == "" {
			continue
		}
		if t, ok := blockAliases[key]; ok {
			key = strings.ToLower(string(t))
		}
		bl[key] = struct{}{}
	}
	return bl
}

func (bl blockList) blocks(t proto.NetworkResourceType) bool {
	_, ok := bl[strings.ToLower(string(t))]
	return ok
}

// blockResources fails every request whose type is in bl and returns the
// running router, or nil when bl is empty. Blocking images or stylesheets
// changes screenshots, so baselines only compare between runs with the same
// list.
func blockResources(page *rod.Page, bl blockList) *rod.HijackRouter {
	if len(bl) == 0 {
		return nil
	}
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if bl.blocks(h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}
