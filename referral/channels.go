package referral

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

// Channel — трек розыгрыша: короткий ключ и username канала
type Channel struct {
	Key    string
	Handle string
}

// URL канала для кнопки подписки
func (c Channel) URL() string {
	return "https://t.me/" + strings.TrimPrefix(c.Handle, "@")
}

// Channels — упорядоченный набор настроенных каналов
type Channels struct {
	list  []Channel
	byKey map[string]Channel
}

func NewChannels(list []Channel) (*Channels, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("не задано ни одного канала")
	}
	cs := &Channels{byKey: make(map[string]Channel, len(list))}
	for _, c := range list {
		if c.Key == "" || c.Handle == "" {
			return nil, fmt.Errorf("канал без ключа или username: %+v", c)
		}
		if strings.Contains(c.Key, "_") {
			return nil, fmt.Errorf("ключ канала %q не должен содержать '_'", c.Key)
		}
		if _, dup := cs.byKey[c.Key]; dup {
			return nil, fmt.Errorf("канал %q указан дважды", c.Key)
		}
		cs.byKey[c.Key] = c
		cs.list = append(cs.list, c)
	}
	return cs, nil
}

func (cs *Channels) Lookup(key string) (Channel, bool) {
	c, ok := cs.byKey[key]
	return c, ok
}

// All возвращает копию списка
func (cs *Channels) All() []Channel {
	return append([]Channel(nil), cs.list...)
}

// Selector решает, какой канал предложить первым в меню
type Selector interface {
	Pick(channels []Channel) int
}

// FixedSelector всегда выбирает первый канал
type FixedSelector struct{}

func (FixedSelector) Pick([]Channel) int { return 0 }

// RandomSelector выбирает случайный канал
type RandomSelector struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRandomSelector(seed int64) *RandomSelector {
	return &RandomSelector{rnd: rand.New(rand.NewSource(seed))}
}

func (s *RandomSelector) Pick(channels []Channel) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Intn(len(channels))
}

// RoundRobinSelector перебирает каналы по кругу
type RoundRobinSelector struct {
	mu   sync.Mutex
	next int
}

func (s *RoundRobinSelector) Pick(channels []Channel) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.next % len(channels)
	s.next++
	return i
}

// SelectorByName возвращает политику по имени из конфигурации
func SelectorByName(name string, seed int64) (Selector, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "fixed":
		return FixedSelector{}, nil
	case "random":
		return NewRandomSelector(seed), nil
	case "round_robin", "roundrobin":
		return &RoundRobinSelector{}, nil
	default:
		return nil, fmt.Errorf("неизвестная политика выбора канала: %q", name)
	}
}

// ordered ставит выбранный канал первым, остальные сохраняют порядок
func ordered(channels []Channel, sel Selector) []Channel {
	if len(channels) < 2 || sel == nil {
		return channels
	}
	i := sel.Pick(channels)
	if i <= 0 || i >= len(channels) {
		return channels
	}
	out := make([]Channel, 0, len(channels))
	out = append(out, channels[i])
	out = append(out, channels[:i]...)
	return append(out, channels[i+1:]...)
}
