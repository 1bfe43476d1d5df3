// Package wire defines the on-the-wire command packet shape of
// spec.md §3/§6: a small structured envelope routed by (pid, module)
// between nodes, carrying a command-specific payload.
//
// This is the one place the module reaches for a wire codec, and it
// uses stdlib encoding/json per spec.md §6's literal "JSON text over
// whichever transport" description — see DESIGN.md for why no
// third-party codec from the retrieval pack applies here.
package wire

import "encoding/json"

// Module is the routing key for a command packet.
type Module int

const (
	ModuleMemory Module = iota + 1
	ModuleVM
	ModuleScheduler
	ModuleGUI
	ModuleController
)

func (m Module) String() string {
	switch m {
	case ModuleMemory:
		return "MEMORY"
	case ModuleVM:
		return "VM"
	case ModuleScheduler:
		return "SCHEDULER"
	case ModuleGUI:
		return "GUI"
	case ModuleController:
		return "CONTROLLER"
	default:
		return "UNKNOWN"
	}
}

// NodeID identifies a node in the fleet. SpecialNIDNone and
// SpecialNIDBroadcast are sentinel values, disambiguated by context per
// spec.md §4.7 ("dst_nid == \"\" means all nodes that currently host
// this pid").
type NodeID string

const (
	// SpecialNIDNone means "unknown destination" (§4.6 get_dst_nid).
	SpecialNIDNone NodeID = ""
	// SpecialNIDBroadcast means "all nodes currently hosting this pid"
	// (§4.7). It shares the empty-string representation with
	// SpecialNIDNone; callers disambiguate by context, as spec.md
	// requires.
	SpecialNIDBroadcast NodeID = ""
)

// PID identifies a process. Processes are named by string id per
// spec.md §3's ProcessInfo/vpid_t.
type PID string

// TID identifies a thread within a process. 0 is the broadcast
// sentinel ALL_THREAD.
type TID uint32

// AllThread is the broadcast sentinel thread id.
const AllThread TID = 0

// Packet is a command envelope routed between modules, locally or
// across the network (§3, §4.7).
type Packet struct {
	PID     PID             `json:"pid"`
	DstNID  NodeID          `json:"dst_nid"`
	SrcNID  NodeID          `json:"src_nid"`
	Module  Module          `json:"module"`
	Content json.RawMessage `json:"content"`
}

// Content is the command discriminator every packet's content carries
// (spec.md: "content always contains a command discriminator string");
// the receiving module decodes the rest into its own command-specific
// struct.
type Content struct {
	Command string `json:"command"`
}

// Command returns the content's command discriminator without fully
// decoding the payload, so a receiving module (the scheduler's
// HandleLocal) can dispatch before parsing the rest.
func (p Packet) Command() (string, error) {
	var c Content
	if err := json.Unmarshal(p.Content, &c); err != nil {
		return "", err
	}
	return c.Command, nil
}

// Encode marshals a command-specific payload (which must itself embed
// or supply a "command" field) into the packet's Content.
func Encode(payload any) (json.RawMessage, error) {
	return json.Marshal(payload)
}

// Decode unmarshals the packet's Content into dst.
func (p Packet) Decode(dst any) error {
	return json.Unmarshal(p.Content, dst)
}
