package stream

import (
	"fmt"
	"strings"
	"sync"
)

// Topic names:
//
//	execution:<id>   events for one execution
//	tenant:<id>      every execution event of one tenant
//	executions       all execution lifecycle events
//	steps            all step events
//	fleet            health issues and reaped workers
//	firehose         everything
const (
	TopicExecutions = "executions"
	TopicSteps      = "steps"
	TopicFleet      = "fleet"
	TopicFirehose   = "firehose"
)

// ExecutionTopic returns the topic for one execution.
func ExecutionTopic(executionID string) string { return "execution:" + executionID }

// TenantTopic returns the topic for one tenant.
func TenantTopic(tenantID string) string { return "tenant:" + tenantID }

// TopicRegistry maps topics to subscriber sets. Safe for concurrent use.
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber // topic → subscriber id → subscriber
}

// NewTopicRegistry creates an empty topic registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{topics: make(map[string]map[string]*Subscriber)}
}

// Subscribe adds sub to topic.
func (tr *TopicRegistry) Subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
	sub.addTopic(topic)
}

// Unsubscribe removes a subscriber from topic. Empty topics are dropped.
func (tr *TopicRegistry) Unsubscribe(topic, subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.remove(topic, subscriberID)
}

// UnsubscribeAll removes a subscriber from every topic.
func (tr *TopicRegistry) UnsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for topic := range tr.topics {
		tr.remove(topic, subscriberID)
	}
}

func (tr *TopicRegistry) remove(topic, subscriberID string) {
	subs, ok := tr.topics[topic]
	if !ok {
		return
	}
	if sub, exists := subs[subscriberID]; exists {
		sub.removeTopic(topic)
		delete(subs, subscriberID)
	}
	if len(subs) == 0 {
		delete(tr.topics, topic)
	}
}

// Broadcast delivers evt once to every subscriber on any of topics and
// returns the number of deliveries.
func (tr *TopicRegistry) Broadcast(topics []string, evt *Event) int {
	tr.mu.RLock()
	targets := make(map[string]*Subscriber)
	for _, topic := range topics {
		for id, sub := range tr.topics[topic] {
			targets[id] = sub
		}
	}
	tr.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		if sub.send(evt) {
			delivered++
		}
	}
	return delivered
}

// TopicCount returns the number of active topics.
func (tr *TopicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}

// SubscriberCount returns the number of subscribers on topic.
func (tr *TopicRegistry) SubscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics[topic])
}

// resolveTopics lists every topic evt is delivered on.
func resolveTopics(evt *Event) []string {
	topics := []string{TopicFirehose}
	switch {
	case strings.HasPrefix(string(evt.Type), "execution."):
		topics = append(topics, TopicExecutions)
	case strings.HasPrefix(string(evt.Type), "step."):
		topics = append(topics, TopicSteps)
	case strings.HasPrefix(string(evt.Type), "fleet."):
		topics = append(topics, TopicFleet)
	}
	if evt.Topic != "" {
		topics = append(topics, evt.Topic)
	}
	if evt.TenantID != "" {
		topics = append(topics, TenantTopic(evt.TenantID))
	}
	return topics
}

// ParseTopicEntity splits "execution:exec_123" into ("execution",
// "exec_123"). Global topics return empty strings.
func ParseTopicEntity(topic string) (entityType, entityID string) {
	kind, rest, ok := strings.Cut(topic, ":")
	if !ok {
		return "", ""
	}
	return kind, rest
}

// ValidateTopic checks whether topic is a known global or entity topic.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicExecutions, TopicSteps, TopicFleet, TopicFirehose:
		return nil
	}

	kind, entityID := ParseTopicEntity(topic)
	if kind == "" || entityID == "" {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}
	switch kind {
	case "execution", "tenant":
		return nil
	default:
		return fmt.Errorf("stream: unknown topic entity type %q", kind)
	}
}
