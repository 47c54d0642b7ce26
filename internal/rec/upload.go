package rec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strconv"
)

// uploadTicket is the server's answer to an upload request: a token tying
// the chunks together, the chunk size the server dictates, and one
// pre-signed PUT target per chunk.
type uploadTicket struct {
	Token     string `json:"upload_token"`
	ChunkSize int64  `json:"upload_chunk_size"`
	Params    []struct {
		URL string `json:"url"`
	} `json:"upload_params"`
}

// Upload streams size bytes from r into folderID under name, overwriting
// any existing file: request a ticket, PUT each chunk to its issued URL
// with the stream client, then finalize. The reader is consumed exactly
// once and in order, so a metered, pause-aware reader works unchanged.
func (c *Client) Upload(ctx context.Context, folderID, name string, size int64, r io.Reader) error {
	q := url.Values{}
	q.Set("file_name", name)
	q.Set("byte_size", strconv.FormatInt(size, 10))

	var ticket uploadTicket
	if err := c.do(ctx, nethttp.MethodGet, "/file/"+folderID, q, nil, &ticket); err != nil {
		return fmt.Errorf("failed to get upload ticket for %s: %w", name, err)
	}
	if ticket.ChunkSize <= 0 {
		return fmt.Errorf("upload ticket for %s has no chunk size", name)
	}

	remaining := size
	for i, param := range ticket.Params {
		if remaining <= 0 {
			break
		}
		chunkLen := ticket.ChunkSize
		if remaining < chunkLen {
			chunkLen = remaining
		}

		// Chunks are buffered so a mid-chunk network failure does not
		// consume reader bytes it cannot replay.
		buf := make([]byte, chunkLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("failed to read chunk %d of %s: %w", i, name, err)
		}
		if err := c.putChunk(ctx, param.URL, buf); err != nil {
			return fmt.Errorf("failed to upload chunk %d of %s: %w", i, name, err)
		}
		remaining -= chunkLen
	}
	if remaining > 0 {
		return fmt.Errorf("upload ticket for %s covers only %d of %d bytes", name, size-remaining, size)
	}

	body := map[string]string{"upload_token": ticket.Token}
	if err := c.do(ctx, nethttp.MethodPost, "/file/complete", nil, body, nil); err != nil {
		return fmt.Errorf("failed to finalize upload of %s: %w", name, err)
	}
	return nil
}

// putChunk PUTs one chunk to its ticket URL using the unbounded stream
// client; ticket URLs are pre-signed and carry no API auth header.
func (c *Client) putChunk(ctx context.Context, chunkURL string, data []byte) error {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPut, chunkURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(data))

	resp, err := c.stream.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("chunk PUT returned status %d", resp.StatusCode)
	}
	return nil
}
