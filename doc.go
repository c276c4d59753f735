// # CodeSphere Session Engine
//
// This repository provides a Go package for collaborative code-editing sessions with peer-to-peer video and audio. It keeps every participant's view of the shared document, language tag and roster converged over a relay websocket channel (last writer wins, with echo suppression on remote applies), and negotiates a direct WebRTC media connection between two peers. The relay itself lives in the relay subpackage.
package codesphere
