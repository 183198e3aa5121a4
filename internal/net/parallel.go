package net

import (
	"sync"

	"github.com/fixpointml/fixnn/internal/fixpoint"
	"github.com/fixpointml/fixnn/internal/layer"
)

// DataParallel shards batches across replicas of a network. Every replica
// carries an independent copy of each policy's cached range state: a range
// computed under auto mode reflects only the batch shard that replica
// processed, so sharing it would be incorrect. Mode transitions go through
// SetFixMethod here, which broadcasts to every replica before any of them
// diverge in later forward passes.
type DataParallel struct {
	primary  *Network
	replicas []*Network
}

// NewDataParallel creates count-1 replicas of n; n itself is the primary and
// the only network whose optimizer steps.
func NewDataParallel(n *Network, count int) *DataParallel {
	dp := &DataParallel{primary: n}
	dp.replicas = append(dp.replicas, n)
	for i := 1; i < count; i++ {
		dp.replicas = append(dp.replicas, n.Clone())
	}
	return dp
}

// Primary returns the network whose parameters are authoritative.
func (dp *DataParallel) Primary() *Network { return dp.primary }

// SetFixMethod applies the mode transition to every replica as a single
// configuration broadcast.
func (dp *DataParallel) SetFixMethod(def fixpoint.Mode, overrides map[fixpoint.TypeRole]fixpoint.Mode) {
	for _, r := range dp.replicas {
		r.SetFixMethod(def, overrides)
	}
}

// SetTraining switches every replica between training and evaluation.
func (dp *DataParallel) SetTraining(training bool) {
	for _, r := range dp.replicas {
		r.SetTraining(training)
	}
}

// TrainBatch shards the batch across replicas, accumulates gradients in
// parallel, averages them on the primary, and takes one optimizer step.
// Returns the mean loss and each sample's predicted class from its shard's
// training forward.
func (dp *DataParallel) TrainBatch(batchX, batchY [][]float64) (float64, []int) {
	batchSize := len(batchX)
	if batchSize == 0 {
		return 0, nil
	}
	workers := len(dp.replicas)
	if workers > batchSize {
		workers = batchSize
	}

	// Replicas train on the primary's current parameters.
	dp.syncParams()

	losses := make([]float64, workers)
	preds := make([]int, batchSize)
	chunk := (batchSize + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > batchSize {
			end = batchSize
		}
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			r := dp.replicas[w]
			r.ClearGradients()
			for i := start; i < end; i++ {
				l, p := r.forwardBackward(batchX[i], batchY[i])
				losses[w] += l
				preds[i] = p
			}
		}(w, start, end)
	}
	wg.Wait()

	// Sum replica gradients into the primary, then average over the batch.
	var totalLoss float64
	for w := 0; w < workers; w++ {
		totalLoss += losses[w]
	}
	for li, l := range dp.primary.layers {
		sum := l.Gradients()
		if len(sum) == 0 {
			continue
		}
		for w := 1; w < workers; w++ {
			other := dp.replicas[w].layers[li].Gradients()
			for i := range sum {
				sum[i] += other[i]
			}
		}
		l.SetGradients(sum)
		l.ScaleGradients(1.0 / float64(batchSize))
	}
	dp.primary.Step()
	return totalLoss / float64(batchSize), preds
}

// syncParams copies the primary's parameters into every replica.
func (dp *DataParallel) syncParams() {
	for li, l := range dp.primary.layers {
		params := l.Params()
		if len(params) == 0 {
			continue
		}
		for w := 1; w < len(dp.replicas); w++ {
			dp.replicas[w].layers[li].SetParams(params)
		}
		if bl, ok := l.(buffered); ok {
			bufs := bl.Buffers()
			for w := 1; w < len(dp.replicas); w++ {
				if rb, ok := dp.replicas[w].layers[li].(buffered); ok {
					rb.SetBuffers(bufs)
				}
			}
		}
	}
}

// buffered is implemented by layers with persistent non-learnable state.
type buffered interface {
	layer.Layer
	Buffers() []float64
	SetBuffers([]float64)
}
