package session

// CommandKind enumerates the command taxonomy a session must route
// (spec §4.9 "not exhaustive" — the core set that exercises every
// session state transition and storage component).
type CommandKind byte

const (
	CmdHello CommandKind = iota
	CmdLogin
	CmdLogout
	CmdSelect
	CmdFetchItems
	CmdStoreItem
	CmdCreateItem
	CmdDeleteItem
	CmdMoveItem
	CmdCopyItem
	CmdModifyFlags
	CmdModifyTags
	CmdLinkItem
	CmdUnlinkItem
	CmdCreateCollection
	CmdDeleteCollection
	CmdModifyCollection
	CmdFetchCollections
	CmdSearch
	CmdSubscribe
	CmdUnsubscribe

	// Response kinds mirror their request one-for-one; the server also
	// emits these kinds unsolicited for notification batches.
	CmdResponse
	CmdStreamedResponse
	CmdNotification
	CmdError
	// CmdConflict is a distinguishable failure response kind for a
	// revision-mismatch rejection (spec §4.9/§8: "failure response
	// kind=Conflict"), as opposed to CmdError's generic diagnostic.
	CmdConflict
)

// String names a command kind for logging.
func (k CommandKind) String() string {
	names := [...]string{
		"HELLO", "LOGIN", "LOGOUT", "SELECT", "FETCH_ITEMS", "STORE_ITEM",
		"CREATE_ITEM", "DELETE_ITEM", "MOVE_ITEM", "COPY_ITEM", "MODIFY_FLAGS", "MODIFY_TAGS",
		"LINK_ITEM", "UNLINK_ITEM", "CREATE_COLLECTION", "DELETE_COLLECTION",
		"MODIFY_COLLECTION", "FETCH_COLLECTIONS", "SEARCH", "SUBSCRIBE", "UNSUBSCRIBE",
		"RESPONSE", "STREAMED_RESPONSE", "NOTIFICATION", "ERROR", "CONFLICT",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "UNKNOWN"
}

// ProtocolVersion is the HELLO capability this server advertises;
// HELLO refuses a mismatched client version.
const ProtocolVersion uint32 = 1
