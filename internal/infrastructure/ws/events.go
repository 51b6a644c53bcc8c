package ws

const (
	MemberJoined = "member.joined"
	MemberLeft   = "member.left"
	UserList     = "room.users"

	MessageReceived = "message.received"
	MessageHistory  = "message.history"

	SystemNotice = "system.notice"
	ErrorEvent   = "error"
)
