package main

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/fixpointml/fixnn/internal/datasets"
	"github.com/fixpointml/fixnn/internal/loss"
	"github.com/fixpointml/fixnn/internal/net"
	"github.com/fixpointml/fixnn/internal/opt"
)

// averageMeter computes and stores the average and current value.
type averageMeter struct {
	val, avg, sum float64
	count         int
}

func (m *averageMeter) update(val float64, n int) {
	m.val = val
	m.sum += val * float64(n)
	m.count += n
	m.avg = m.sum / float64(m.count)
}

func run(opts *options) error {
	fmt.Printf("cmd line arguments: %+v\n", *opts)

	if err := os.MkdirAll(opts.saveDir, 0755); err != nil {
		return fmt.Errorf("failed to create save dir: %w", err)
	}

	cfg, err := fixConfigFromOptions(opts)
	if err != nil {
		return err
	}

	optimizer := opt.NewSGD(opts.lr, opts.momentum, opts.weightDecay)
	model, err := buildModel(cfg, optimizer)
	if err != nil {
		return err
	}
	fmt.Print(model.PrintFixConfigs())

	bestAcc := 0.0
	startEpoch := int(opts.startEpoch)

	if opts.resume != "" {
		fmt.Printf("=> loading checkpoint %q\n", opts.resume)
		loaded, ckpt, err := net.LoadCheckpoint(opts.resume, cfg, loss.SoftmaxCrossEntropy{}, optimizer)
		if err != nil {
			return fmt.Errorf("failed to resume: %w", err)
		}
		model = loaded
		startEpoch = ckpt.Epoch
		bestAcc = ckpt.BestAcc
		fmt.Printf("=> loaded checkpoint %q (epoch %d)\n", opts.resume, ckpt.Epoch)
	} else if opts.pretrained != "" {
		fmt.Printf("=> finetune from checkpoint %q\n", opts.pretrained)
		loaded, _, err := net.LoadCheckpoint(opts.pretrained, cfg, loss.SoftmaxCrossEntropy{}, optimizer)
		if err != nil {
			return fmt.Errorf("failed to load pretrained model: %w", err)
		}
		model = loaded
	}

	val, err := datasets.LoadCIFAR10(opts.dataDir, false)
	if err != nil {
		return err
	}

	if opts.evaluate {
		validate(model, val, opts)
		return nil
	}

	train, err := datasets.LoadCIFAR10(opts.dataDir, true)
	if err != nil {
		return err
	}

	parallel := net.NewDataParallel(model, int(opts.workers))
	scheduler := opt.NewStepLR(optimizer, 10, 0.5)
	for e := 0; e < startEpoch; e++ {
		scheduler.Step()
	}

	logger, err := net.NewMetricsLogger(filepath.Join(opts.saveDir, "metrics.csv"), opts.resume != "")
	if err != nil {
		return err
	}
	defer logger.Close()

	rng := rand.New(rand.NewSource(opts.seed))
	for epoch := startEpoch; epoch < int(opts.epochs); epoch++ {
		fmt.Printf("Epoch %d: lr: %g\n", epoch, optimizer.LR())

		trainLoss, trainAcc := trainEpoch(parallel, train, rng, epoch, opts)
		valLoss, valAcc := validate(model, val, opts)
		scheduler.Step()

		if err := logger.Log(epoch, trainLoss, trainAcc, valLoss, valAcc, optimizer.LR()); err != nil {
			return err
		}

		if valAcc > bestAcc {
			bestAcc = valAcc
			name := fmt.Sprintf("checkpoint_%s_%.3f.bin", opts.prefix, bestAcc)
			if err := model.SaveCheckpoint(filepath.Join(opts.saveDir, name), epoch+1, bestAcc); err != nil {
				return err
			}
			fmt.Print(model.PrintFixConfigs())
		}
	}
	fmt.Printf("Best acc: %.3f\n", bestAcc)
	return nil
}

// trainEpoch runs one training epoch and returns the mean loss and top-1
// accuracy over the epoch.
func trainEpoch(parallel *net.DataParallel, train *datasets.Dataset,
	rng *rand.Rand, epoch int, opts *options) (float64, float64) {

	losses := &averageMeter{}
	top1 := &averageMeter{}
	start := time.Now()

	setFixMethodTrain(parallel)
	parallel.SetTraining(true)

	train.Shuffle(rng)
	batchSize := int(opts.batchSize)
	numBatches := (train.Len() + batchSize - 1) / batchSize

	for b := 0; b < numBatches; b++ {
		lo := b * batchSize
		hi := lo + batchSize
		if hi > train.Len() {
			hi = train.Len()
		}

		batchX := make([][]float64, 0, hi-lo)
		batchY := make([][]float64, 0, hi-lo)
		for i := lo; i < hi; i++ {
			batchX = append(batchX, datasets.Augment(train.Inputs[i], rng))
			batchY = append(batchY, train.Targets[i])
		}

		// Accuracy comes from the training forward's own predictions; an
		// extra measurement pass would push single-sample statistics into
		// the batch normalization buffers.
		batchLoss, preds := parallel.TrainBatch(batchX, batchY)

		correct := 0
		for i := lo; i < hi; i++ {
			if preds[i-lo] == train.Labels[i] {
				correct++
			}
		}
		acc := 100.0 * float64(correct) / float64(hi-lo)
		losses.update(batchLoss, hi-lo)
		top1.update(acc, hi-lo)

		if b%int(opts.printFreq) == 0 {
			fmt.Printf("Epoch: [%d][%d/%d]\tTime %.1fs\tLoss %.4f (%.4f)\tPrec@1 %.3f%% (%.3f%%)\n",
				epoch, b, numBatches, time.Since(start).Seconds(),
				losses.val, losses.avg, top1.val, top1.avg)
		}
	}
	return losses.avg, top1.avg
}

// validate runs the evaluation pass and returns the mean loss and top-1
// accuracy.
func validate(model *net.Network, val *datasets.Dataset, opts *options) (float64, float64) {
	losses := &averageMeter{}
	top1 := &averageMeter{}
	start := time.Now()

	setFixMethodEval(model)
	model.SetTraining(false)

	criterion := loss.SoftmaxCrossEntropy{}
	printEvery := int(opts.printFreq) * int(opts.batchSize)

	for i := 0; i < val.Len(); i++ {
		out := model.Forward(val.Inputs[i])
		l := criterion.Forward(out, val.Targets[i])

		correct := 0.0
		if floats.MaxIdx(out) == val.Labels[i] {
			correct = 100.0
		}
		losses.update(l, 1)
		top1.update(correct, 1)

		if printEvery > 0 && i%printEvery == 0 {
			fmt.Printf("Test: [%d/%d]\tTime %.1fs\tLoss %.4f (%.4f)\tPrec@1 %.3f%% (%.3f%%)\n",
				i, val.Len(), time.Since(start).Seconds(),
				losses.val, losses.avg, top1.val, top1.avg)
		}
	}

	fmt.Printf(" * Prec@1 %.3f%%\n", top1.avg)
	return losses.avg, top1.avg
}
