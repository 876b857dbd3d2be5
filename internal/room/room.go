package room

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/victornm/livequiz/internal/domain"
)

const (
	defaultOrganiserName = "Organiser"
	defaultMaxNameLength = 24
)

// Join rejection reasons.
const (
	ReasonAlreadyJoined = "You have already joined this game"
	ReasonNameBlank     = "Name cannot be blank"
	ReasonNameTooLong   = "Name is too long"
	ReasonNameTaken     = "Name is already taken"
	ReasonNameReserved  = "Name is reserved"
	ReasonBanned        = "You have been banned from this game"
	ReasonLocked        = "Game is locked"
)

// Leaving reasons, sent with EventLeaving.
const (
	LeaveOrganiserLeft  = "OrganiserLeft"
	LeaveAllPlayersLeft = "AllPlayersLeft"
	LeaveKicked         = "Kicked"
	LeaveShutdown       = "Shutdown"
)

const EventLeaving = "leaving"

// Sender delivers a message to one connection. Implementations must not block.
type Sender interface {
	Send(to domain.ConnID, msg domain.Message)
}

type Config struct {
	ID string
	// OrganiserName is given to the first joiner regardless of the requested name.
	OrganiserName string
	// ReservedNames can never be taken by participants. The organiser name is always reserved.
	ReservedNames []string
	MaxNameLength int
	Sender        Sender
}

type Member struct {
	Conn     domain.ConnID
	Username string
}

type JoinResult struct {
	OK        bool
	Organiser bool
	Username  string
	Reason    string
}

type LeaveResult struct {
	Found     bool
	Organiser bool
	Member    Member
	// Evicted lists everybody else removed along with the leaver: the participants when the
	// organiser leaves, or the organiser when the last participant of a terminating room leaves.
	Evicted []Member
	// Emptied is set when the room has nobody left in it.
	Emptied bool
}

// Room holds the membership of one session. It is not safe for concurrent use; the owning
// session serialises access.
type Room struct {
	id            string
	organiserName string
	reserved      map[string]struct{}
	maxNameLength int
	sender        Sender

	organiser        *Member
	members          map[domain.ConnID]*Member
	order            []domain.ConnID
	banned           map[string]struct{}
	locked           bool
	terminateOnEmpty bool
}

func New(c Config) *Room {
	r := &Room{
		id:            c.ID,
		organiserName: c.OrganiserName,
		maxNameLength: c.MaxNameLength,
		sender:        c.Sender,
		reserved:      make(map[string]struct{}),
		members:       make(map[domain.ConnID]*Member),
		banned:        make(map[string]struct{}),
	}

	if r.organiserName == "" {
		r.organiserName = defaultOrganiserName
	}
	if r.maxNameLength <= 0 {
		r.maxNameLength = defaultMaxNameLength
	}

	r.reserved[normalize(r.organiserName)] = struct{}{}
	for _, n := range c.ReservedNames {
		r.reserved[normalize(n)] = struct{}{}
	}

	return r
}

func (r *Room) ID() string { return r.id }

// Join admits conn. The first joiner becomes the organiser under the reserved organiser name;
// everybody else is validated against the name rules, the ban list and the lock.
func (r *Room) Join(conn domain.ConnID, requestedName string) JoinResult {
	if r.Has(conn) {
		return JoinResult{Reason: ReasonAlreadyJoined}
	}

	if r.organiser == nil {
		r.organiser = &Member{Conn: conn, Username: r.organiserName}
		return JoinResult{OK: true, Organiser: true, Username: r.organiserName}
	}

	name := strings.TrimSpace(requestedName)
	if reason := r.validate(name); reason != "" {
		return JoinResult{Reason: reason}
	}

	r.members[conn] = &Member{Conn: conn, Username: name}
	r.order = append(r.order, conn)

	return JoinResult{OK: true, Username: name}
}

func (r *Room) validate(name string) string {
	key := normalize(name)

	switch {
	case name == "":
		return ReasonNameBlank
	case utf8.RuneCountInString(name) > r.maxNameLength:
		return ReasonNameTooLong
	case r.taken(key):
		return ReasonNameTaken
	case r.isReserved(key):
		return ReasonNameReserved
	case r.isBanned(key):
		return ReasonBanned
	case r.locked:
		return ReasonLocked
	}

	return ""
}

// Leave removes conn. The organiser leaving evicts everybody; the last member leaving a room that
// terminates on empty sends the organiser away as well.
func (r *Room) Leave(conn domain.ConnID) LeaveResult {
	if r.organiser != nil && r.organiser.Conn == conn {
		res := LeaveResult{Found: true, Organiser: true, Member: *r.organiser}
		for _, m := range r.Members() {
			r.send(m.Conn, EventLeaving, LeavingPayload{Reason: LeaveOrganiserLeft})
			res.Evicted = append(res.Evicted, m)
		}

		r.organiser = nil
		r.members = make(map[domain.ConnID]*Member)
		r.order = nil
		res.Emptied = true
		return res
	}

	m, ok := r.members[conn]
	if !ok {
		return LeaveResult{}
	}

	delete(r.members, conn)
	r.order = slices.DeleteFunc(r.order, func(c domain.ConnID) bool { return c == conn })
	res := LeaveResult{Found: true, Member: *m}

	if len(r.members) == 0 && r.terminateOnEmpty && r.organiser != nil {
		r.send(r.organiser.Conn, EventLeaving, LeavingPayload{Reason: LeaveAllPlayersLeft})
		res.Evicted = append(res.Evicted, *r.organiser)
		r.organiser = nil
	}

	res.Emptied = r.IsEmpty()
	return res
}

// Ban records the member's name so future joins with it fail. The member stays connected.
func (r *Room) Ban(conn domain.ConnID) bool {
	m, ok := r.members[conn]
	if !ok {
		return false
	}

	r.banned[normalize(m.Username)] = struct{}{}
	return true
}

// Kick bans the member and removes it with reason Kicked.
func (r *Room) Kick(conn domain.ConnID) LeaveResult {
	if !r.Ban(conn) {
		return LeaveResult{}
	}

	r.send(conn, EventLeaving, LeavingPayload{Reason: LeaveKicked})
	return r.Leave(conn)
}

func (r *Room) ToggleLock() bool {
	r.locked = !r.locked
	return r.locked
}

func (r *Room) IsUnlocked() bool { return !r.locked }

func (r *Room) SetTerminateOnEmpty(v bool) { r.terminateOnEmpty = v }

func (r *Room) IsOrganiser(conn domain.ConnID) bool {
	return r.organiser != nil && r.organiser.Conn == conn
}

// Organiser returns the organiser, if any.
func (r *Room) Organiser() (Member, bool) {
	if r.organiser == nil {
		return Member{}, false
	}
	return *r.organiser, true
}

func (r *Room) Has(conn domain.ConnID) bool {
	if r.IsOrganiser(conn) {
		return true
	}
	_, ok := r.members[conn]
	return ok
}

func (r *Room) Member(conn domain.ConnID) (Member, bool) {
	m, ok := r.members[conn]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

func (r *Room) MemberByName(username string) (Member, bool) {
	key := normalize(username)
	for _, c := range r.order {
		if m := r.members[c]; normalize(m.Username) == key {
			return *m, true
		}
	}
	return Member{}, false
}

// Members returns participants in join order. The organiser is never included.
func (r *Room) Members() []Member {
	ms := make([]Member, 0, len(r.order))
	for _, c := range r.order {
		ms = append(ms, *r.members[c])
	}
	return ms
}

func (r *Room) Usernames() []string {
	names := make([]string, 0, len(r.order))
	for _, c := range r.order {
		names = append(names, r.members[c].Username)
	}
	return names
}

// Size is the number of participants, excluding the organiser.
func (r *Room) Size() int { return len(r.members) }

func (r *Room) IsEmpty() bool {
	return r.organiser == nil && len(r.members) == 0
}

func (r *Room) ToAll(event string, data any) {
	r.ToOrganiser(event, data)
	r.ToMembers(event, data)
}

func (r *Room) ToMembers(event string, data any) {
	for _, c := range r.order {
		r.send(c, event, data)
	}
}

func (r *Room) ToOrganiser(event string, data any) {
	if r.organiser != nil {
		r.send(r.organiser.Conn, event, data)
	}
}

// ToMember sends to a single connection in the room; unknown connections are ignored.
func (r *Room) ToMember(conn domain.ConnID, event string, data any) {
	if r.Has(conn) {
		r.send(conn, event, data)
	}
}

func (r *Room) send(conn domain.ConnID, event string, data any) {
	if r.sender == nil {
		return
	}
	r.sender.Send(conn, domain.Message{Event: event, Data: data})
}

func (r *Room) taken(key string) bool {
	for _, m := range r.members {
		if normalize(m.Username) == key {
			return true
		}
	}
	return false
}

func (r *Room) isReserved(key string) bool {
	_, ok := r.reserved[key]
	return ok
}

func (r *Room) isBanned(key string) bool {
	_, ok := r.banned[key]
	return ok
}

type LeavingPayload struct {
	Reason string `json:"reason"`
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
