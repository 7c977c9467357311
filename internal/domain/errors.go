package domain

import "errors"

var (
	ErrPeerNotFound      = errors.New("peer not found")
	ErrRoomNotFound      = errors.New("room not found")
	ErrAlreadyJoined     = errors.New("peer already joined a room")
	ErrNotJoined         = errors.New("peer has not joined a room")
	ErrTransportExists   = errors.New("transport for this direction already exists")
	ErrTransportNotFound = errors.New("transport not found")
	ErrTransportNotReady = errors.New("transport is not connected")
	ErrWrongDirection    = errors.New("transport has the wrong direction")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrConsumerNotFound  = errors.New("consumer not found")
	ErrCannotConsume     = errors.New("peer capabilities cannot consume this producer")
	ErrEngineClosed      = errors.New("media engine is closed")
)
