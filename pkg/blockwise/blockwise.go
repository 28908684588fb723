// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package blockwise implements RFC 7959 Block1 (outbound fragmentation)
// and Block2 (outbound early negotiation / block pulling), using
// sync.Pool buffer reuse for block buffer management and a
// last-activity timestamp for abandoning stalled transfers.
package blockwise

import (
	"sync"
	"time"

	"github.com/edgecoap/coap/pkg/coaperrors"
	"github.com/edgecoap/coap/pkg/message"
)

// bufferPool reuses block-sized byte slices across transfers, the same
// shape as a UDP server's read-buffer pool.
var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 0, 1024)
		return &buf
	},
}

// Block1Sender fragments an outbound request payload across Block1
// messages, tracking the server's size negotiation.
type Block1Sender struct {
	payload    []byte
	szx        uint8
	num        uint32
	lastActive time.Time
	prevBuf    *[]byte
}

// NewBlock1Sender starts a Block1 transfer of payload at the given
// preferred SZX (clamped by preferredBlockSize elsewhere).
func NewBlock1Sender(payload []byte, szx uint8) *Block1Sender {
	return &Block1Sender{payload: payload, szx: szx, lastActive: time.Now()}
}

// Done reports whether every block has been sent.
func (b *Block1Sender) Done() bool {
	return b.offset() >= len(b.payload)
}

func (b *Block1Sender) offset() int {
	return int(b.num) * message.BlockSizeFromSZX(b.szx)
}

// Next returns the Block1 option and payload slice for the current
// block, and whether this is the final block (M=0).
func (b *Block1Sender) Next() (opt message.Option, chunk []byte, more bool) {
	size := message.BlockSizeFromSZX(b.szx)
	start := b.offset()
	end := start + size
	if end >= len(b.payload) {
		end = len(b.payload)
		more = false
	} else {
		more = true
	}

	// The caller is assumed done with the previous block's chunk by the
	// time the next one is requested (sequential block-wise sending),
	// so the buffer it came from can be recycled now.
	if b.prevBuf != nil {
		bufferPool.Put(b.prevBuf)
	}
	bufPtr := bufferPool.Get().(*[]byte)
	*bufPtr = append((*bufPtr)[:0], b.payload[start:end]...)
	chunk = *bufPtr
	b.prevBuf = bufPtr

	opt = message.EncodeBlock(message.Block1, b.num, more, b.szx)
	b.lastActive = time.Now()
	return opt, chunk, more
}

// Advance moves to the next block after a 2.31 Continue (or final
// success), applying the server's negotiated SZX if it is smaller than
// the one currently in use: RFC 7959 §2.5 requires resuming from NUM in
// the new size, aligned to the new block boundary.
func (b *Block1Sender) Advance(serverSZX uint8) {
	if serverSZX < b.szx {
		// Realign NUM to the smaller block size at the byte offset that
		// follows the block just acknowledged.
		offset := (int(b.num) + 1) * message.BlockSizeFromSZX(b.szx)
		b.szx = serverSZX
		b.num = uint32(offset / message.BlockSizeFromSZX(b.szx))
		return
	}
	b.num++
}

// Stale reports whether the transfer has made no progress for longer
// than lifetime, RFC 7959's BLOCKWISE_STATUS_LIFETIME.
func (b *Block1Sender) Stale(lifetime time.Duration) bool {
	return time.Since(b.lastActive) > lifetime
}

// Close releases the sender's pooled block buffer. Call once the
// transfer is done or abandoned.
func (b *Block1Sender) Close() {
	if b.prevBuf != nil {
		bufferPool.Put(b.prevBuf)
		b.prevBuf = nil
	}
}

// Block2Puller reassembles a response body delivered across Block2
// messages, pulling successive blocks by reissuing the request with an
// incremented NUM and the same SZX until M=0.
type Block2Puller struct {
	szx        uint8
	num        uint32
	body       []byte
	lastActive time.Time
}

// NewBlock2Puller starts a Block2 pull at the client's preferred SZX,
// used for the early-negotiation Block2(0,0,SZX_pref) on the first
// request.
func NewBlock2Puller(preferredSZX uint8) *Block2Puller {
	return &Block2Puller{szx: preferredSZX, lastActive: time.Now()}
}

// RequestOption returns the Block2 option for the next block to pull.
func (p *Block2Puller) RequestOption() message.Option {
	return message.EncodeBlock(message.Block2, p.num, false, p.szx)
}

// Accept appends a received block to the reassembled body and reports
// whether more blocks remain, validating the NUM/SZX invariants RFC
// 7959 §2.4 places on a block-wise response sequence.
func (p *Block2Puller) Accept(opt message.Option, chunk []byte) (more bool, err error) {
	num, moreFollows, szx := message.BlockValue(opt)
	if num != p.num {
		return false, coaperrors.Wrap(coaperrors.ErrFormat, "block2 out-of-order NUM")
	}
	// A size decrease mid-transfer is permitted; a size increase is not.
	if p.num > 0 && szx > p.szx {
		return false, coaperrors.Wrap(coaperrors.ErrFormat, "block2 SZX increased mid-transfer")
	}
	p.szx = szx
	p.body = append(p.body, chunk...)
	p.lastActive = time.Now()

	if !moreFollows {
		return false, nil
	}
	p.num++
	return true, nil
}

// Body returns the reassembled payload once the pull is complete.
func (p *Block2Puller) Body() []byte {
	return p.body
}

// Stale reports whether the reassembly has stalled past lifetime.
func (p *Block2Puller) Stale(lifetime time.Duration) bool {
	return time.Since(p.lastActive) > lifetime
}
