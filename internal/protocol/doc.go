// Package protocol defines the JSON frames exchanged between replica sessions
// and the repository server over a websocket.
//
// # Frames
//
// Every frame is a Message whose Type selects which other fields are set:
//
//	join             client -> peer   SenderID, ProtocolVersion
//	peer             peer -> client   SenderID, ProtocolVersion
//	request          either way       DocumentID, Data (first sync message)
//	sync             either way       DocumentID, Data (sync message)
//	doc-unavailable  peer -> client   DocumentID
//	error            either way       Message
//
// Data carries opaque replication-engine sync bytes and is base64 in JSON.
package protocol
