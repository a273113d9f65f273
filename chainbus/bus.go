/*
 * Copyright 2019 The GameChain Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package chainbus is the in-process event bus carrying engine
// announcements: checkpoint advances, sync state changes and upstream
// connectivity events.
package chainbus

import (
	"sync"
)

// Handler is a subscriber callback.
type Handler func(args ...interface{})

// Suber defines subscribing-related bus behavior.
type Suber interface {
	Subscribe(topic string, handler Handler) (cancel func())
}

// Puber defines publishing-related bus behavior.
type Puber interface {
	Publish(topic string, args ...interface{})
	PublishAsync(topic string, args ...interface{})
}

// Bus englobes global (subscribe, publish, control) bus behavior.
type Bus interface {
	Suber
	Puber
	WaitAsync()
}

type subscription struct {
	id      uint64
	handler Handler
}

// ChainBus - box for handlers and callbacks.
type ChainBus struct {
	lock     sync.Mutex
	nextID   uint64
	handlers map[string][]subscription
	wg       sync.WaitGroup
}

// New returns a new ChainBus with empty handlers.
func New() *ChainBus {
	return &ChainBus{
		handlers: make(map[string][]subscription),
	}
}

// Subscribe registers handler for topic and returns a cancel function
// removing the subscription.
func (bus *ChainBus) Subscribe(topic string, handler Handler) (cancel func()) {
	bus.lock.Lock()
	defer bus.lock.Unlock()
	bus.nextID++
	id := bus.nextID
	bus.handlers[topic] = append(bus.handlers[topic], subscription{id: id, handler: handler})
	return func() {
		bus.lock.Lock()
		defer bus.lock.Unlock()
		subs := bus.handlers[topic]
		for i, sub := range subs {
			if sub.id == id {
				bus.handlers[topic] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

func (bus *ChainBus) snapshot(topic string) []subscription {
	bus.lock.Lock()
	defer bus.lock.Unlock()
	return append([]subscription(nil), bus.handlers[topic]...)
}

// Publish invokes every handler of topic synchronously, in subscription
// order.
func (bus *ChainBus) Publish(topic string, args ...interface{}) {
	for _, sub := range bus.snapshot(topic) {
		sub.handler(args...)
	}
}

// PublishAsync invokes every handler of topic in its own goroutine.
func (bus *ChainBus) PublishAsync(topic string, args ...interface{}) {
	for _, sub := range bus.snapshot(topic) {
		bus.wg.Add(1)
		go func(h Handler) {
			defer bus.wg.Done()
			h(args...)
		}(sub.handler)
	}
}

// WaitAsync blocks until all async published events are handled.
func (bus *ChainBus) WaitAsync() {
	bus.wg.Wait()
}
