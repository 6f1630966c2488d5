package conn

import (
	"github.com/loadbench/mb/internal/config"
	"github.com/loadbench/mb/internal/httprequest"
	"github.com/loadbench/mb/internal/prng"
)

// maxBodyBufLen caps how many bytes of a random body are ever actually
// materialized, mirroring net.h's MAX_REQ_LEN: request bodies larger than
// this are sent by replaying the same generated bytes until the declared
// Content-Length/chunk total is reached, rather than allocating the full
// size.
const maxBodyBufLen = 64 << 20

// TemplateData holds everything derived from a config.Template that every
// Instance cloned from it (one per "clients" replica) shares by pointer:
// the two pre-rendered byte images and, for random bodies, the one-shot
// PRNG-filled buffer. This is the Go analogue of the original's
// "duplicate" connections borrowing a prior connection's buffers instead
// of reallocating them.
type TemplateData struct {
	Template *config.Template
	Images   httprequest.Pair
	BodyBuf  []byte // nil unless Template.Body.Type == config.BodyRandom
}

// NewTemplateData renders t's byte images and, if applicable, fills its
// random-body buffer once.
func NewTemplateData(t *config.Template) *TemplateData {
	td := &TemplateData{
		Template: t,
		Images:   httprequest.Build(t),
	}
	if t.Body.Type == config.BodyRandom {
		n := t.Body.Size
		if n > maxBodyBufLen {
			n = maxBodyBufLen
		}
		td.BodyBuf = make([]byte, n)
		prng.Seed(t.Index).Fill(td.BodyBuf)
	}
	return td
}
