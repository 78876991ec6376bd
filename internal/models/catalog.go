package models

// CatalogEntry maps a human-readable room to the portal identifiers needed to query it
type CatalogEntry struct {
	Building string `json:"building"`
	Room     string `json:"room"`
	RemoteID string `json:"remote_id"`

	// Portal parameters shared by every room of the building
	BuildID string `json:"build_id"`
	SysID   string `json:"sys_id"`
	AreaID  string `json:"area_id"`
}

// Key returns the (building, room) pair of the entry
func (e CatalogEntry) Key() RoomKey {
	return RoomKey{Building: e.Building, Room: e.Room}
}

// HasRemoteID reports whether the entry can be fetched at all
func (e CatalogEntry) HasRemoteID() bool {
	return e.RemoteID != ""
}
