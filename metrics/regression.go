// Package metrics provides the regression metrics used to evaluate the
// proxy against ground truth extracted from the simulator.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/gridproxy/leapnet/pkg/errors"
)

// Metric is an evaluation plugin: it reduces a (steps x width) pair of
// ground-truth and predicted matrices to a scalar (length-1 slice) or one
// value per output column.
type Metric func(yTrue, yPred *mat.Dense) ([]float64, error)

// MSE computes the mean squared error between two vectors.
func MSE(yTrue, yPred *mat.VecDense) (float64, error) {
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError("MSE", "empty vector")
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError("MSE", n, yPred.Len())
	}

	var sum float64
	for i := 0; i < n; i++ {
		diff := yTrue.AtVec(i) - yPred.AtVec(i)
		sum += diff * diff
	}
	return sum / float64(n), nil
}

// RMSE computes the root mean squared error between two vectors.
func RMSE(yTrue, yPred *mat.VecDense) (float64, error) {
	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(mse), nil
}

// MAE computes the mean absolute error between two vectors.
func MAE(yTrue, yPred *mat.VecDense) (float64, error) {
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError("MAE", "empty vector")
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError("MAE", n, yPred.Len())
	}

	var sum float64
	for i := 0; i < n; i++ {
		sum += math.Abs(yTrue.AtVec(i) - yPred.AtVec(i))
	}
	return sum / float64(n), nil
}

// R2 computes the coefficient of determination between two vectors. A
// constant ground truth yields 0 when predictions match it exactly and is
// otherwise reported as 0 with a warning-free fallback.
func R2(yTrue, yPred *mat.VecDense) (float64, error) {
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError("R2", "empty vector")
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError("R2", n, yPred.Len())
	}

	var meanTrue float64
	for i := 0; i < n; i++ {
		meanTrue += yTrue.AtVec(i)
	}
	meanTrue /= float64(n)

	var ssRes, ssTot float64
	for i := 0; i < n; i++ {
		diff := yTrue.AtVec(i) - yPred.AtVec(i)
		ssRes += diff * diff
		dev := yTrue.AtVec(i) - meanTrue
		ssTot += dev * dev
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1.0, nil
		}
		return 0.0, nil
	}
	return 1.0 - ssRes/ssTot, nil
}

// MSERaw computes the mean squared error of each output column, mirroring
// multioutput="raw_values" behavior.
func MSERaw(yTrue, yPred *mat.Dense) ([]float64, error) {
	return columnReduce("MSERaw", yTrue, yPred, func(t, p float64) float64 {
		d := t - p
		return d * d
	}, nil)
}

// MAERaw computes the mean absolute error of each output column.
func MAERaw(yTrue, yPred *mat.Dense) ([]float64, error) {
	return columnReduce("MAERaw", yTrue, yPred, func(t, p float64) float64 {
		return math.Abs(t - p)
	}, nil)
}

// RMSERaw computes the root mean squared error of each output column.
func RMSERaw(yTrue, yPred *mat.Dense) ([]float64, error) {
	return columnReduce("RMSERaw", yTrue, yPred, func(t, p float64) float64 {
		d := t - p
		return d * d
	}, math.Sqrt)
}

// MSEMean computes a single mean squared error over every element of the
// matrix pair, as a length-1 slice.
func MSEMean(yTrue, yPred *mat.Dense) ([]float64, error) {
	cols, err := MSERaw(yTrue, yPred)
	if err != nil {
		return nil, err
	}
	var sum float64
	for _, v := range cols {
		sum += v
	}
	return []float64{sum / float64(len(cols))}, nil
}

func columnReduce(op string, yTrue, yPred *mat.Dense, elem func(t, p float64) float64, post func(float64) float64) ([]float64, error) {
	rt, ct := yTrue.Dims()
	rp, cp := yPred.Dims()
	if rt == 0 || ct == 0 {
		return nil, errors.NewValueError(op, "empty matrix")
	}
	if rt != rp || ct != cp {
		return nil, errors.NewDimensionError(op, rt*ct, rp*cp)
	}

	out := make([]float64, ct)
	for j := 0; j < ct; j++ {
		var sum float64
		for i := 0; i < rt; i++ {
			sum += elem(yTrue.At(i, j), yPred.At(i, j))
		}
		out[j] = sum / float64(rt)
		if post != nil {
			out[j] = post(out[j])
		}
	}
	return out, nil
}
