package service

import (
	"fmt"
	"hash/fnv"
)

// PlainDataService is plain_data_service: serves a fixed byte string
// under a configured content-type, with an FNV-1a ETag and If-None-Match
// handling.
type PlainDataService struct {
	Body        []byte
	ContentType string
	etag        string
}

// NewPlainDataService builds a PlainDataService, precomputing its ETag.
func NewPlainDataService(body []byte, contentType string) *PlainDataService {
	h := fnv.New64a()
	h.Write(body)
	return &PlainDataService{
		Body:        body,
		ContentType: contentType,
		etag:        fmt.Sprintf(`"%x"`, h.Sum64()),
	}
}

func (p *PlainDataService) Serve(tx *Transaction) error {
	if tx.Request.Header.Get("If-None-Match") == p.etag {
		tx.Writer.Header().Set("ETag", p.etag)
		return tx.Respond(304, p.ContentType, nil)
	}
	tx.Writer.Header().Set("ETag", p.etag)
	return tx.Respond(200, p.ContentType, p.Body)
}

var _ Service = (*PlainDataService)(nil)
