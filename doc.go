// Package vitalrelay delivers vital-record messages to a remote registration API and reconciles
// the asynchronous responses back onto the messages that caused them.
//
// Typical flow:
//  1. A submission handler enqueues an OutboundMessage (status Pending) through Engine.Enqueue.
//  2. Engine.Run ticks at a fixed interval. Each tick submits Pending messages, polls the remote
//     side for responses newer than the persisted watermark, and resends messages whose
//     acknowledgement window expired.
//  3. Every polled response is deduplicated by id, correlated to its outbound message, recorded,
//     and acknowledged back when its kind requires it.
//
// Storage, transport and the wire codec are pluggable. See the mysql, postgres and memory packages
// for MessageStore implementations, httpgateway for the HTTP Gateway and fhir for the codec.
package vitalrelay
