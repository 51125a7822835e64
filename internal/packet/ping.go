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

package packet

// PingReq represents the MQTT-SN PINGREQ message. ClientID is present
// only when a sleeping client wakes up to drain its queue (spec §4.3,
// §4.6); an empty ClientID means an ordinary keepalive ping.
type PingReq struct {
	ClientID []byte
}

func (p *PingReq) Type() MsgType { return PINGREQ }

func (p *PingReq) EncodePayload() ([]byte, error) {
	return append([]byte(nil), p.ClientID...), nil
}

func decodePingReq(payload []byte) (Message, error) {
	p := &PingReq{}
	if len(payload) > 0 {
		p.ClientID = append([]byte(nil), payload...)
	}
	return p, nil
}

// PingResp represents the MQTT-SN PINGRESP message; it carries no payload.
type PingResp struct{}

func (p *PingResp) Type() MsgType { return PINGRESP }

func (p *PingResp) EncodePayload() ([]byte, error) { return nil, nil }

func decodePingResp(payload []byte) (Message, error) {
	return &PingResp{}, nil
}

func init() {
	register(PINGREQ, decodePingReq)
	register(PINGRESP, decodePingResp)
}
