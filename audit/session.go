package audit

import "fmt"

// SessionAuditor binds a Sink to one session's identity. It satisfies
// sftp.Auditor structurally (Go interfaces need no import to implement),
// plus the connection-lifecycle and auth-outcome methods of §6 that the
// session orchestrator calls directly.
type SessionAuditor struct {
	sink      *Sink
	sessionID string
	username  string
}

// NewSessionAuditor returns a SessionAuditor tagging every event with
// sessionID and username, per §3's audit event shape.
func NewSessionAuditor(sink *Sink, sessionID, username string) *SessionAuditor {
	return &SessionAuditor{sink: sink, sessionID: sessionID, username: username}
}

func (a *SessionAuditor) Connected()        { a.sink.Record(a.sessionID, a.username, Connected, "-", "-") }
func (a *SessionAuditor) ConnectionFailed(details string) {
	a.sink.Record(a.sessionID, a.username, ConnectionFailed, "-", details)
}
func (a *SessionAuditor) Disconnected() { a.sink.Record(a.sessionID, a.username, Disconnected, "-", "-") }
func (a *SessionAuditor) AuthSuccess()  { a.sink.Record(a.sessionID, a.username, AuthSuccess, "-", "-") }
func (a *SessionAuditor) AuthFailed(details string) {
	a.sink.Record(a.sessionID, a.username, AuthFailed, "-", details)
}

// FileRead, FileWrite, ... below satisfy the sftp.Auditor interface.

func (a *SessionAuditor) FileRead(target string)   { a.sink.Record(a.sessionID, a.username, FileRead, target, "") }
func (a *SessionAuditor) FileWrite(target string)   { a.sink.Record(a.sessionID, a.username, FileWrite, target, "") }
func (a *SessionAuditor) FileDelete(target string)  { a.sink.Record(a.sessionID, a.username, FileDelete, target, "") }
func (a *SessionAuditor) DirCreate(target string)   { a.sink.Record(a.sessionID, a.username, DirCreate, target, "") }
func (a *SessionAuditor) DirDelete(target string)   { a.sink.Record(a.sessionID, a.username, DirDelete, target, "") }
func (a *SessionAuditor) DirList(target string)     { a.sink.Record(a.sessionID, a.username, DirList, target, "") }

func (a *SessionAuditor) Rename(oldpath, newpath string) {
	a.sink.Record(a.sessionID, a.username, Rename, oldpath, fmt.Sprintf("-> %s", newpath))
}

func (a *SessionAuditor) Error(opcode string, err error) {
	a.sink.Record(a.sessionID, a.username, ErrorAction, opcode, err.Error())
}
