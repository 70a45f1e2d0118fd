package prover

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/alpenlabs/strata-sub002/log"
	"github.com/alpenlabs/strata-sub002/zkvm"
)

// WitnessSubmissionStatus is the pool's answer to a witness
// submission. Busy and WitnessExist are expected operating conditions,
// not errors: Busy means retry later, WitnessExist means the work is
// already underway or done.
type WitnessSubmissionStatus uint8

const (
	SubmittedForProving WitnessSubmissionStatus = iota + 1
	WitnessExist
	Busy
)

func (s WitnessSubmissionStatus) String() string {
	switch s {
	case SubmittedForProving:
		return "submitted_for_proving"
	case WitnessExist:
		return "witness_exist"
	case Busy:
		return "busy"
	default:
		return fmt.Sprintf("witness_status(%d)", uint8(s))
	}
}

// ProofProcessingStatus reports whether a submitted witness has
// finished proving. Completed covers both success and failure; the
// accompanying error tells them apart.
type ProofProcessingStatus uint8

const (
	ProofStatusInProgress ProofProcessingStatus = iota + 1
	ProofStatusCompleted
)

func (s ProofProcessingStatus) String() string {
	switch s {
	case ProofStatusInProgress:
		return "in_progress"
	case ProofStatusCompleted:
		return "completed"
	default:
		return fmt.Sprintf("proof_status(%d)", uint8(s))
	}
}

type proofResult struct {
	receipt *zkvm.ProofReceipt
	err     error
	done    bool
}

// ProverPool runs one backend's proofs on a bounded set of worker
// goroutines. Admission is non-blocking: a submission past capacity
// returns Busy instead of queuing, so a burst of checkpoint requests
// backs up at the caller rather than growing an unbounded queue here.
//
// Each task id is admitted at most once. The result entry doubles as
// the in-progress marker and is overwritten in place when the worker
// finishes; it stays until DropResult, which is the manager's signal
// that the proof has been persisted.
type ProverPool struct {
	mu       sync.Mutex
	backend  zkvm.Backend
	capacity int
	pending  int
	results  map[ProofKey]*proofResult
	wg       sync.WaitGroup
}

// NewProverPool sizes the pool at capacity workers, defaulting to the
// machine's CPU count when capacity is not positive.
func NewProverPool(backend zkvm.Backend, capacity int) *ProverPool {
	if capacity <= 0 {
		capacity = runtime.NumCPU()
	}
	return &ProverPool{
		backend:  backend,
		capacity: capacity,
		results:  make(map[ProofKey]*proofResult),
	}
}

func (p *ProverPool) Backend() zkvm.BackendId {
	return p.backend.Id()
}

func (p *ProverPool) Capacity() int {
	return p.capacity
}

// Pending reports admitted tasks that have not finished proving.
func (p *ProverPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// SubmitWitness admits a proving job for key. Returns WitnessExist if
// the pool already holds an entry for the id (proving or finished),
// Busy if every worker slot is taken.
func (p *ProverPool) SubmitWitness(key ProofKey, witness []byte) WitnessSubmissionStatus {
	p.mu.Lock()
	if _, ok := p.results[key]; ok {
		p.mu.Unlock()
		return WitnessExist
	}
	if p.pending >= p.capacity {
		p.mu.Unlock()
		log.Trace(log.ProverMonitoring, "pool at capacity",
			"task", key.String(), "capacity", p.capacity)
		return Busy
	}
	p.pending++
	res := &proofResult{}
	p.results[key] = res
	p.wg.Add(1)
	p.mu.Unlock()

	log.Debug(log.ProverMonitoring, "proving started",
		"task", key.String(), "witness_bytes", len(witness))
	go p.prove(key, witness, res)
	return SubmittedForProving
}

func (p *ProverPool) prove(key ProofKey, witness []byte, res *proofResult) {
	defer p.wg.Done()
	receipt, err := p.backend.Prove(witness)
	if err != nil {
		log.Warn(log.ProverMonitoring, "proving failed",
			"task", key.String(), "err", err)
	} else {
		log.Debug(log.ProverMonitoring, "proving finished", "task", key.String())
	}

	p.mu.Lock()
	res.receipt = receipt
	res.err = err
	res.done = true
	p.pending--
	p.mu.Unlock()
}

// ProofStatus reports whether key's witness is still proving.
func (p *ProverPool) ProofStatus(key ProofKey) (ProofProcessingStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res, ok := p.results[key]
	if !ok {
		return 0, &WitnessNotFoundError{Key: key}
	}
	if !res.done {
		return ProofStatusInProgress, nil
	}
	return ProofStatusCompleted, nil
}

// CollectProof returns the finished receipt for key, or the proving
// error if the backend failed. An in-progress task returns
// ProofStatusInProgress with no receipt; the entry is left in place
// either way.
func (p *ProverPool) CollectProof(key ProofKey) (*zkvm.ProofReceipt, ProofProcessingStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res, ok := p.results[key]
	if !ok {
		return nil, 0, &WitnessNotFoundError{Key: key}
	}
	if !res.done {
		return nil, ProofStatusInProgress, nil
	}
	return res.receipt, ProofStatusCompleted, res.err
}

// DropResult forgets a finished task so its id can be admitted again.
// In-progress entries are kept: the worker still owns a slot.
func (p *ProverPool) DropResult(key ProofKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if res, ok := p.results[key]; ok && res.done {
		delete(p.results, key)
	}
}

// Wait blocks until every admitted job has finished.
func (p *ProverPool) Wait() {
	p.wg.Wait()
}
