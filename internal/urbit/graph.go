package urbit

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/shipwatch/shipwatch/internal/types"
)

// parseAddNodes decodes a graph-store update into events, oldest first.
//
// Expected shape:
//
//	{"graph-update": {"add-nodes": {"resource": {...}, "nodes": {
//	    "/<da>": {"post": {"author": "zod", "index": "/<da>", "time-sent": 1617000000000,
//	                       "contents": [{"text": "hi"}, {"mention": "nus"}]},
//	              "children": null}}}}}
//
// "add-graph" with a "graph" object is accepted too. Deleted posts (post is a
// bare hash string) are skipped.
func parseAddNodes(id types.ChannelID, body []byte) ([]types.ActivityEvent, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON", types.ErrMalformedResponse)
	}

	update := gjson.GetBytes(body, "graph-update")
	if !update.IsObject() {
		return nil, fmt.Errorf("%w: missing graph-update", types.ErrMalformedResponse)
	}

	nodes := update.Get("add-nodes.nodes")
	if !nodes.Exists() {
		nodes = update.Get("add-graph.graph")
	}
	if !nodes.IsObject() {
		return nil, fmt.Errorf("%w: missing nodes", types.ErrMalformedResponse)
	}

	var (
		events []types.ActivityEvent
		perr   error
	)
	nodes.ForEach(func(key, node gjson.Result) bool {
		post := node.Get("post")
		if !post.IsObject() {
			return true
		}

		ev, err := parsePost(id, key.String(), post)
		if err != nil {
			perr = err
			return false
		}
		events = append(events, ev)
		return true
	})
	if perr != nil {
		return nil, perr
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Cursor < events[j].Cursor })
	return events, nil
}

func parsePost(id types.ChannelID, key string, post gjson.Result) (types.ActivityEvent, error) {
	index := post.Get("index").String()
	if index == "" {
		index = key
	}
	atom := firstIndexAtom(index)
	cursor, err := DAToUnixNano(atom)
	if err != nil {
		return types.ActivityEvent{}, fmt.Errorf("%w: node %s: %v", types.ErrMalformedResponse, key, err)
	}

	author := post.Get("author").String()
	if author == "" {
		return types.ActivityEvent{}, fmt.Errorf("%w: node %s: missing author", types.ErrMalformedResponse, key)
	}
	if !strings.HasPrefix(author, "~") {
		author = "~" + author
	}

	ts := time.Unix(0, cursor).UTC()
	if sent := post.Get("time-sent"); sent.Exists() && sent.Int() > 0 {
		ts = time.UnixMilli(sent.Int()).UTC()
	}

	return types.ActivityEvent{
		Channel:   id,
		Author:    author,
		Timestamp: ts,
		Content:   renderContents(post.Get("contents")),
		Cursor:    cursor,
	}, nil
}

// firstIndexAtom takes "/170.141.../1" to "170.141..."
func firstIndexAtom(index string) string {
	for _, seg := range strings.Split(index, "/") {
		if seg != "" {
			return seg
		}
	}
	return ""
}

// renderContents flattens graph-store content parts into plain text
func renderContents(contents gjson.Result) string {
	var parts []string
	for _, c := range contents.Array() {
		switch {
		case c.Get("text").Exists():
			parts = append(parts, c.Get("text").String())
		case c.Get("mention").Exists():
			mention := c.Get("mention").String()
			if !strings.HasPrefix(mention, "~") {
				mention = "~" + mention
			}
			parts = append(parts, mention)
		case c.Get("url").Exists():
			parts = append(parts, c.Get("url").String())
		case c.Get("code.expression").Exists():
			parts = append(parts, c.Get("code.expression").String())
		case c.Get("reference").Exists():
			parts = append(parts, "[reference]")
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
