package store

import "fmt"

// QualifyThreshold — количество уникальных приглашённых для участия в розыгрыше
const QualifyThreshold = 3

// Key однозначно определяет строку участника
type Key struct {
	UserID  int64
	Channel string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Channel, k.UserID)
}

// Status — результат последней проверки подписки
type Status string

const (
	StatusUnknown    Status = ""
	StatusSubscribed Status = "subscribed"
	StatusLeft       Status = "left"
)

// Stage — состояние участника внутри одного канала
type Stage int

const (
	StageUnseen Stage = iota
	StageEntered
	StageProgressing
	StageQualified
	StageNotified
)

func (s Stage) String() string {
	switch s {
	case StageEntered:
		return "entered"
	case StageProgressing:
		return "progressing"
	case StageQualified:
		return "qualified"
	case StageNotified:
		return "notified"
	default:
		return "unseen"
	}
}

// Row — участник розыгрыша в конкретном канале.
// Количество приглашённых не хранится отдельно и всегда равно len(InvitedIDs).
type Row struct {
	UserID     int64
	Username   string
	Channel    string
	InvitedIDs IDSet
	Notified   bool
	Status     Status
}

// NewRow создаёт пустую строку для ключа
func NewRow(key Key) *Row {
	return &Row{UserID: key.UserID, Channel: key.Channel}
}

func (r *Row) Key() Key {
	return Key{UserID: r.UserID, Channel: r.Channel}
}

func (r *Row) InvitedCount() int {
	return len(r.InvitedIDs)
}

// Stage вычисляет состояние строки; nil означает Unseen
func (r *Row) Stage() Stage {
	if r == nil {
		return StageUnseen
	}
	n := r.InvitedCount()
	switch {
	case n >= QualifyThreshold && r.Notified:
		return StageNotified
	case n >= QualifyThreshold:
		return StageQualified
	case n > 0:
		return StageProgressing
	default:
		return StageEntered
	}
}

// Clone возвращает независимую копию
func (r *Row) Clone() *Row {
	if r == nil {
		return nil
	}
	c := *r
	c.InvitedIDs = append(IDSet(nil), r.InvitedIDs...)
	return &c
}

// IDSet — упорядоченное множество ID без повторов
type IDSet []int64

func (s IDSet) Contains(id int64) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// With добавляет id, если его ещё нет. Второе значение сообщает, было ли добавление.
func (s IDSet) With(id int64) (IDSet, bool) {
	if s.Contains(id) {
		return s, false
	}
	out := make(IDSet, len(s), len(s)+1)
	copy(out, s)
	return append(out, id), true
}

// Without возвращает набор без id. Исходный набор не меняется.
func (s IDSet) Without(id int64) IDSet {
	if !s.Contains(id) {
		return s
	}
	out := make(IDSet, 0, len(s)-1)
	for _, v := range s {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
