package lib

import "sync"

type IModel interface {
	GetID() string
}

// Collection is a typed wrapper around sync.Map keyed by the model ID
type Collection[T IModel] struct {
	items sync.Map
}

func NewCollection[T IModel]() *Collection[T] {
	return &Collection[T]{
		items: sync.Map{},
	}
}

func (p *Collection[T]) Load(ID string) (item T, ok bool) {
	if val, ok := p.items.Load(ID); ok {
		return val.(T), true
	}
	return item, false
}

func (p *Collection[T]) Range(f func(item T) bool) {
	p.items.Range(func(key, value any) bool {
		item := value.(T)
		return f(item)
	})
}

func (p *Collection[T]) Store(item T) {
	p.items.Store(item.GetID(), item)
}

func (p *Collection[T]) LoadOrStore(item T) (actual T, loaded bool) {
	val, loaded := p.items.LoadOrStore(item.GetID(), item)
	return val.(T), loaded
}

func (p *Collection[T]) Delete(ID string) {
	p.items.Delete(ID)
}

func (p *Collection[T]) Len() int {
	count := 0
	p.items.Range(func(key, value any) bool {
		count++
		return true
	})
	return count
}
