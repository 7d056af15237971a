// Package basket implements the shopping basket kept in the visitor's session.
//
// The basket is stored under one session key as a JSON object mapping the
// product ID (decimal string) to {quantity, price}. The price is the unit
// price in cents captured when the product was added, or last updated with
// update=true. Totals use that snapshot, so a vendor changing a price does
// not silently change what a shopper already sees in their basket.
package basket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strconv"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/session"
)

// SessionKey is the session key holding the basket.
const SessionKey = "basket"

// Entry is one stored basket line. Quantity is always at least 1.
type Entry struct {
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"price"`
}

// Item is an Entry resolved against the catalog.
type Item struct {
	Product    *model.Product
	Quantity   int
	UnitPrice  int64
	TotalPrice int64
}

// ProductLookup resolves basket entries. A deleted product must be reported
// as apperror.ErrNotFound so iteration can skip it.
type ProductLookup interface {
	GetProductByID(ctx context.Context, id int64) (*model.Product, error)
}

// Basket is a view over one session's basket. Create it per request with Load.
type Basket struct {
	sess     *session.Session
	products ProductLookup
	entries  map[int64]Entry
}

// Load reads the basket from the session. Anything that does not decode to
// a well-formed basket is treated as an empty one; the session itself is
// left untouched until the first mutation.
func Load(sess *session.Session, products ProductLookup) *Basket {
	b := &Basket{sess: sess, products: products, entries: map[int64]Entry{}}
	if raw, ok := sess.Raw(SessionKey); ok {
		if entries, err := decode(raw); err == nil {
			b.entries = entries
		}
	}
	return b
}

func decode(raw json.RawMessage) (map[int64]Entry, error) {
	var stored map[string]Entry
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, err
	}

	entries := make(map[int64]Entry, len(stored))
	for key, e := range stored {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || id < 1 || strconv.FormatInt(id, 10) != key {
			return nil, fmt.Errorf("basket: bad product key %q", key)
		}
		if e.Quantity < 1 || e.UnitPrice < 0 {
			return nil, fmt.Errorf("basket: bad entry for %d", id)
		}
		entries[id] = e
	}
	return entries, nil
}

// Add puts quantity of product into the basket. With update the quantity
// replaces the current one and the price snapshot is refreshed; otherwise
// the quantity is added to what is there. A resulting quantity of zero
// removes the line.
func (b *Basket) Add(product *model.Product, quantity int, update bool) error {
	if product == nil {
		return apperror.ValidationFailed("product", "product is required")
	}
	if quantity < 0 {
		return apperror.ValidationFailed("quantity", "quantity must not be negative")
	}

	e, ok := b.entries[product.ID]
	if !ok {
		e = Entry{Quantity: 0, UnitPrice: product.Price}
	}
	if update {
		e.Quantity = quantity
		e.UnitPrice = product.Price
	} else {
		e.Quantity += quantity
	}

	if e.Quantity == 0 {
		delete(b.entries, product.ID)
	} else {
		b.entries[product.ID] = e
	}
	return b.save()
}

// Remove drops the line for productID. Removing an absent product is fine.
func (b *Basket) Remove(productID int64) error {
	delete(b.entries, productID)
	return b.save()
}

// Clear empties the basket and removes it from the session.
func (b *Basket) Clear() {
	b.entries = map[int64]Entry{}
	b.sess.Delete(SessionKey)
	b.sess.MarkModified()
}

func (b *Basket) save() error {
	stored := make(map[string]Entry, len(b.entries))
	for id, e := range b.entries {
		stored[strconv.FormatInt(id, 10)] = e
	}
	if err := b.sess.Set(SessionKey, stored); err != nil {
		return fmt.Errorf("basket: saving: %w", err)
	}
	b.sess.MarkModified()
	return nil
}

// All yields every line resolved against the catalog, in product ID order.
// Each call re-queries the lookup. Products that no longer exist are
// skipped; any other lookup failure is yielded and iteration continues.
func (b *Basket) All(ctx context.Context) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		for _, id := range slices.Sorted(maps.Keys(b.entries)) {
			e := b.entries[id]
			p, err := b.products.GetProductByID(ctx, id)
			if err != nil {
				if errors.Is(err, apperror.ErrNotFound) {
					continue
				}
				if !yield(Item{}, fmt.Errorf("basket: resolving product %d: %w", id, err)) {
					return
				}
				continue
			}
			item := Item{
				Product:    p,
				Quantity:   e.Quantity,
				UnitPrice:  e.UnitPrice,
				TotalPrice: e.UnitPrice * int64(e.Quantity),
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Items collects All, stopping at the first lookup error.
func (b *Basket) Items(ctx context.Context) ([]Item, error) {
	items := []Item{}
	for item, err := range b.All(ctx) {
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Len is the number of units in the basket, not the number of lines.
func (b *Basket) Len() int {
	n := 0
	for _, e := range b.entries {
		n += e.Quantity
	}
	return n
}

// TotalPrice sums the stored snapshots. It never touches the catalog.
func (b *Basket) TotalPrice() int64 {
	var total int64
	for _, e := range b.entries {
		total += e.UnitPrice * int64(e.Quantity)
	}
	return total
}

// Contains reports whether productID has a line in the basket.
func (b *Basket) Contains(productID int64) bool {
	_, ok := b.entries[productID]
	return ok
}

// Entries returns a copy of the stored lines.
func (b *Basket) Entries() map[int64]Entry {
	return maps.Clone(b.entries)
}
