package stream

import (
	"sync"

	"golang.org/x/exp/slices"
)

// makes a copy of the list on update, so `get` never races a mutation
type CallbackList[T any] struct {
	mutex     sync.Mutex
	nextId    int
	ids       []int
	callbacks map[int]T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbacks: map[int]T{},
	}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	out := make([]T, 0, len(self.ids))
	for _, id := range self.ids {
		out = append(out, self.callbacks[id])
	}
	return out
}

// returns a function that removes the callback
func (self *CallbackList[T]) Add(callback T) func() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := self.nextId
	self.nextId += 1
	self.ids = append(self.ids, callbackId)
	self.callbacks[callbackId] = callback

	return func() {
		self.remove(callbackId)
	}
}

func (self *CallbackList[T]) remove(callbackId int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := slices.Index(self.ids, callbackId)
	if i < 0 {
		// not present
		return
	}
	nextIds := slices.Clone(self.ids)
	self.ids = slices.Delete(nextIds, i, i+1)
	delete(self.callbacks, callbackId)
}

// all engine callbacks are wrapped to check for nil and recover from errors,
// so a side-effect callback can never fail the reconciliation path
func safeCallback(callback func()) {
	if callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			LogFn(LogLevelInfo, "cb")("recovered callback panic = %v", r)
		}
	}()
	callback()
}
