package client

import (
	"context"
	"sync"

	"github.com/openopc/go-opcda/apartment"
	"github.com/openopc/go-opcda/binding"
)

// BrowseCursor is a lazy cursor over server item identifiers. Pages are
// fetched from the server on demand; the cursor holds at most one page.
type BrowseCursor struct {
	apt    *apartment.Apartment
	cfg    *Config
	native binding.Browser

	mu        sync.Mutex
	buf       []string
	exhausted bool
	released  bool
}

// Next returns the next item identifier. The second return is false once
// the enumeration is exhausted.
func (b *BrowseCursor) Next(ctx context.Context) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.buf) > 0 {
		return b.pop(), true, nil
	}
	if b.exhausted || b.released {
		return "", false, nil
	}

	ctx, cancel := callContext(ctx, b.cfg)
	defer cancel()

	page, err := apartment.Call(ctx, b.apt, func() ([]string, error) {
		return b.native.Next(b.cfg.BrowsePageSize)
	})
	if err != nil {
		return "", false, mapBridgeErr(err)
	}
	if len(page) == 0 {
		b.exhausted = true
		return "", false, nil
	}

	b.buf = page

	return b.pop(), true, nil
}

func (b *BrowseCursor) pop() string {
	id := b.buf[0]
	b.buf = b.buf[1:]

	return id
}

// Reset rewinds the cursor to the start of the enumeration.
func (b *BrowseCursor) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ctx, cancel := callContext(ctx, b.cfg)
	defer cancel()

	if err := b.apt.Do(ctx, b.native.Reset); err != nil {
		return mapBridgeErr(err)
	}

	b.buf = nil
	b.exhausted = false

	return nil
}

// Close releases the underlying enumerator.
func (b *BrowseCursor) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return nil
	}
	b.released = true
	b.buf = nil

	ctx, cancel := callContext(ctx, b.cfg)
	defer cancel()

	return mapBridgeErr(b.apt.Do(ctx, b.native.Release))
}
