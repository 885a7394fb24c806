package models

// Metadata keys attached to local objects by the replication engine.
// MetaKeyRemoteInfo is private bookkeeping and is never sent over the wire;
// MetaKeySourceInfo travels outbound so the replica can point edits back at
// the source; MetaKeySites holds the ids of the sites selected for the
// object by the admin surface.
const (
	MetaKeyRemoteInfo = "_replicast_remote_info"
	MetaKeySourceInfo = "_replicast_source_info"
	MetaKeySites      = "_replicast_sites"
)

// RemoteInfo records the last-known remote counterpart of a local object on
// one site.
type RemoteInfo struct {
	RemoteID int64  `json:"remote_id"`
	Status   string `json:"remote_status"`
}

// RemoteInfoMap maps site id to the remote counterpart on that site.
// At most one entry per site.
type RemoteInfoMap map[int64]RemoteInfo

// SourceInfo identifies, from a replica's perspective, the local object a
// remote copy originated from.
type SourceInfo struct {
	ObjectID int64  `json:"object_id"`
	EditLink string `json:"edit_link"`
}
