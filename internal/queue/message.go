package queue

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"pehlione.com/settlement/internal/modules/payments"
)

// HeaderDeliveryCount counts how many times a notification was republished.
const HeaderDeliveryCount = "delivery-count"

// DecodeNotification parses and validates a notification message.
func DecodeNotification(m kafka.Message) (payments.Notification, error) {
	var n payments.Notification
	if err := json.Unmarshal(m.Value, &n); err != nil {
		return payments.Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	if err := n.Validate(); err != nil {
		return payments.Notification{}, err
	}
	return n, nil
}

func encodeNotification(n payments.Notification, deliveries int) (kafka.Message, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(n.PaymentID),
		Value: b,
		Headers: []kafka.Header{
			{Key: HeaderDeliveryCount, Value: []byte(strconv.Itoa(deliveries))},
		},
	}, nil
}

func deliveryCount(m kafka.Message) int {
	for _, h := range m.Headers {
		if h.Key == HeaderDeliveryCount {
			n, err := strconv.Atoi(string(h.Value))
			if err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}
