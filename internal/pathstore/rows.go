package pathstore

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/dgallion1/callgest/internal/results"
)

// TranscriptMeta is stored at <prefix>/transcripts/<id>/meta.
type TranscriptMeta struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentHash string `json:"content_hash"`
	Ticker      string `json:"ticker,omitempty"`
	Quarter     string `json:"quarter,omitempty"`
	Year        string `json:"year,omitempty"`
	Date        string `json:"date,omitempty"`
	Degraded    bool   `json:"degraded"`
	Blocks      int    `json:"blocks"`
}

// TranscriptKey is the node prefix for one transcript.
func TranscriptKey(prefix, id string) string {
	return strings.TrimSuffix(prefix, "/") + "/transcripts/" + id
}

// HashKey indexes a fully classified transcript by content hash.
func HashKey(prefix, hash string) string {
	return strings.TrimSuffix(prefix, "/") + "/hashes/" + hash
}

// WriteRows replaces the stored rows of one transcript. Each block row goes
// to <prefix>/transcripts/<id>/blocks/<index>; when the ticker is known the
// transcript is linked from <prefix>/tickers/<ticker>. The hash index entry
// is written last, and only when no row failed, so FindByHash never returns
// a transcript that should be classified again.
func (c *Client) WriteRows(ctx context.Context, prefix string, m TranscriptMeta, rows []results.Row) error {
	base := TranscriptKey(prefix, m.ID)

	if err := c.DeleteNode(ctx, base, true); err != nil {
		return fmt.Errorf("clear transcript: %w", err)
	}
	if err := c.PutNode(ctx, base+"/meta", NodeRequest{Value: m, Source: "callgest"}); err != nil {
		return err
	}

	clean := true
	for _, r := range rows {
		if r.Failed() {
			clean = false
		}
		if r.BlockIndex <= 0 {
			continue
		}
		key := base + "/blocks/" + strconv.Itoa(r.BlockIndex)
		if err := c.PutNode(ctx, key, NodeRequest{Value: r, Source: "callgest"}); err != nil {
			return err
		}
	}

	if m.Ticker != "" {
		err := c.PutLink(ctx, LinkRequest{
			From:    strings.TrimSuffix(prefix, "/") + "/tickers/" + strings.ToLower(m.Ticker),
			To:      base + "/meta",
			Weight:  1,
			Summary: strings.TrimSpace(m.Quarter + " " + m.Year + " " + m.Date),
		})
		if err != nil {
			return err
		}
	}

	if m.ContentHash == "" {
		return nil
	}
	if !clean {
		return c.DeleteNode(ctx, HashKey(prefix, m.ContentHash), false)
	}
	return c.PutNode(ctx, HashKey(prefix, m.ContentHash), NodeRequest{Value: m, Source: "callgest"})
}

// FindByHash returns the transcript indexed under hash, or nil.
func (c *Client) FindByHash(ctx context.Context, prefix, hash string) (*TranscriptMeta, error) {
	node, err := c.GetNode(ctx, HashKey(prefix, hash))
	if err != nil || node == nil {
		return nil, err
	}
	var m TranscriptMeta
	if err := decodeValue(node.Value, &m); err != nil {
		return nil, fmt.Errorf("decode hash node: %w", err)
	}
	return &m, nil
}

// TranscriptRows reads back the block rows of one transcript in block order.
func (c *Client) TranscriptRows(ctx context.Context, prefix, id string) ([]results.Row, error) {
	nodes, err := c.ListChildren(ctx, TranscriptKey(prefix, id)+"/blocks", 0)
	if err != nil {
		return nil, err
	}
	rows := make([]results.Row, 0, len(nodes))
	for _, n := range nodes {
		var r results.Row
		if err := decodeValue(n.Value, &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", n.Key, err)
		}
		rows = append(rows, r)
	}
	slices.SortFunc(rows, func(a, b results.Row) int {
		return cmp.Compare(a.BlockIndex, b.BlockIndex)
	})
	return rows, nil
}

// decodeValue converts a generically decoded node value into dst.
func decodeValue(v, dst any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
