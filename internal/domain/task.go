package domain

// PortInfo describes one input or output endpoint of a task.
type PortInfo struct {
	Index     int        `json:"index"`
	ID        ChannelID  `json:"id"`
	Peer      *ChannelID `json:"peer,omitempty"`
	Position  uint64     `json:"position"`
	Connected bool       `json:"connected"`
}

// TaskInfo is a point-in-time view of one populated slot. Stopped tasks stay
// inspectable until their slot is reclaimed.
type TaskInfo struct {
	Slot      int        `json:"slot"`
	Name      string     `json:"name"`
	Rule      string     `json:"rule"`
	State     string     `json:"state"`
	Stopped   bool       `json:"stopped"`
	Running   bool       `json:"running"`
	Inputs    []PortInfo `json:"inputs"`
	Outputs   []PortInfo `json:"outputs"`
	Runs      uint64     `json:"runs"`
	BusyUSec  int64      `json:"busy_usec"`
	LastRunAt int64      `json:"last_run_at_usec"`
}

// DescribePorts fills the input and output port views of a task.
func DescribePorts(t Task) (inputs, outputs []PortInfo) {
	inputs = make([]PortInfo, t.InputCount())
	for i := range inputs {
		inputs[i] = PortInfo{Index: i, ID: NewChannelID(t.Name(), i), Position: t.RxCount(i)}
		if peer, ok := t.InputID(i); ok {
			p := peer
			inputs[i].Peer = &p
			inputs[i].Connected = true
		}
	}
	outputs = make([]PortInfo, t.OutputCount())
	for i := range outputs {
		id, _ := t.OutputID(i)
		outputs[i] = PortInfo{Index: i, ID: id, Position: t.TxCount(i), Connected: true}
	}
	return inputs, outputs
}
