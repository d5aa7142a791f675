// Package realtime は貸出イベントを WebSocket で本人に届ける
package realtime

import "sync"

// Hub は接続中のクライアントをチャネル単位で束ねる。
// 今のところチャネルは利用者ごと（user:<id>）だけで、借りた・返した・承認した の通知が流れる。
type Hub struct {
	mu        sync.RWMutex
	byChannel map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{byChannel: make(map[string]map[*Client]struct{})}
}

// UserChannel: 貸し手・借り手それぞれの個人宛てチャネル名
func UserChannel(userID string) string { return "user:" + userID }

// Subscribe: 同じ利用者が複数タブで繋いでいれば全部に届く
func (h *Hub) Subscribe(channel string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.byChannel[channel]
	if set == nil {
		set = make(map[*Client]struct{})
		h.byChannel[channel] = set
	}
	set[client] = struct{}{}
	client.addChannel(channel)
}

// UnsubscribeAll は切断時に呼ぶ。空になったチャネルは消す
func (h *Hub) UnsubscribeAll(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range client.listChannels() {
		set := h.byChannel[ch]
		if set == nil {
			continue
		}
		delete(set, client)
		if len(set) == 0 {
			delete(h.byChannel, ch)
		}
	}
}

// Publish は届け先の数を返す（0 ならその利用者はオフライン）。
// 送信はロックの外で行う
func (h *Hub) Publish(channel string, payload []byte) int {
	h.mu.RLock()
	set := h.byChannel[channel]
	targets := make([]*Client, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.send(payload)
	}
	return len(targets)
}
