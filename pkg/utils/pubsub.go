package utils

import (
	"github.com/sasha-s/go-deadlock"
)

const DEFAULT_SUBSCRIBER_BUFFER = 16

// Topic fans values out to every subscriber. Publishing never blocks: a
// subscriber whose buffer is full misses the value.
type Topic[T any] struct {
	subscribers map[chan T]struct{}
	mutex       deadlock.Mutex
}

func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{
		subscribers: make(map[chan T]struct{}),
	}
}

// Publish delivers value to every subscriber with room for it and returns
// how many subscribers received it.
func (t *Topic[T]) Publish(value T) (delivered int) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	for subscriber := range t.subscribers {
		select {
		case subscriber <- value:
			delivered++
		default:
		}
	}
	return
}

func (t *Topic[T]) NumSubscribers() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return len(t.subscribers)
}

type Subscriber[T any] struct {
	channel chan T
	topic   *Topic[T]
}

func (t *Topic[T]) Subscribe() *Subscriber[T] {
	return t.SubscribeBuffered(DEFAULT_SUBSCRIBER_BUFFER)
}

func (t *Topic[T]) SubscribeBuffered(size int) *Subscriber[T] {
	channel := make(chan T, size)
	t.mutex.Lock()
	t.subscribers[channel] = struct{}{}
	t.mutex.Unlock()

	return &Subscriber[T]{channel, t}
}

func (t *Subscriber[T]) Recv() <-chan T {
	return t.channel
}

func (t *Subscriber[T]) Done() {
	topic := t.topic
	topic.mutex.Lock()
	delete(topic.subscribers, t.channel)
	topic.mutex.Unlock()
}
