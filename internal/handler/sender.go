/*
 *    Copyright 2021 chenquan
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *        http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

package handler

import (
	"context"

	"github.com/lenzarda/mqtt-sn/internal/message"
	"github.com/lenzarda/mqtt-sn/internal/packet"
	"github.com/lenzarda/mqtt-sn/internal/queue"
	"github.com/lenzarda/mqtt-sn/internal/session"
	"github.com/lenzarda/mqtt-sn/internal/transport"
)

// TransportSender implements delivery.Sender by encoding a queued entry
// as a PUBLISH and writing it to the session's bound network address.
type TransportSender struct {
	Transport transport.Transport
	Payloads  *message.Registry
}

// SendPublish implements delivery.Sender.
func (s *TransportSender) SendPublish(sess *session.Session, e queue.Entry, messageID uint16, attempt int) error {
	data, _ := s.Payloads.Get(e.PayloadID)

	alias, kind, ok := sess.Topics.LookupByTopic(e.Topic)
	if !ok {
		var err error
		alias, err = sess.Topics.Register(e.Topic)
		if err != nil {
			return err
		}
		kind = packet.TopicIDNormal
	}

	p := &packet.Publish{
		Flags:     packet.NewFlags(attempt > 1, e.QoS, e.Retain, false, false, kind),
		TopicID:   alias,
		MessageID: messageID,
		Data:      data,
	}
	frame, err := packet.Encode(p)
	if err != nil {
		return err
	}
	return s.Transport.Send(context.Background(), sess.NetworkAddr, frame)
}
