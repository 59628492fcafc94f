package service

import (
	"math"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-results-api/internal/models"
)

// passThreshold is the pass mark on the /20 axis used when no scale applies.
const passThreshold = 10.0

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// normalizeScore projects a raw score onto the 0-20 axis.
func normalizeScore(score, maxScore float64) float64 {
	if maxScore <= 0 {
		return 0
	}
	return round2(score / maxScore * 20)
}

// scoreOn20 prefers the stored normalised score and recomputes it otherwise.
func scoreOn20(r models.Result) float64 {
	if r.NormalizedScore != 0 || r.Score == 0 {
		return r.NormalizedScore
	}
	return normalizeScore(r.Score, r.MaxScore)
}

// applyScoring derives every computed field of a result from its raw score,
// coercing absences to zero. scale may be nil.
func applyScoring(r *models.Result, scale *models.GradingScale, logger *zap.Logger) {
	if r.Coefficient <= 0 {
		r.Coefficient = 1
	}
	if r.ExamAttendance == models.AttendanceAbsent && r.Score != 0 {
		if logger != nil {
			logger.Warn("absent result carried a score, coercing to zero",
				zap.String("student_id", r.StudentID),
				zap.String("evaluation_title", r.EvaluationTitle),
				zap.Float64("score", r.Score))
		}
		r.Score = 0
	}
	r.NormalizedScore = normalizeScore(r.Score, r.MaxScore)
	r.WeightedNormalizedScore = round2(r.NormalizedScore * r.Coefficient)

	if scale == nil {
		r.GradingScaleID = nil
		r.GradeBand = nil
		r.IsRetakeEligible = r.NormalizedScore < passThreshold
		return
	}
	scaleID := scale.ID
	r.GradingScaleID = &scaleID
	onScale := projectOntoScale(scale, r.Score, r.MaxScore)
	r.GradeBand = ResolveBand(scale, onScale)
	r.IsRetakeEligible = !IsPassing(scale, onScale)
}

// projectOntoScale expresses score/maxScore on the scale's own axis.
func projectOntoScale(scale *models.GradingScale, score, maxScore float64) float64 {
	if maxScore <= 0 {
		return 0
	}
	return round2(score / maxScore * scale.MaxScore)
}

// weightedAverage returns sum(v*w)/sum(w) rounded to 2 dp, nil when empty.
func weightedAverage(values, weights []float64) *float64 {
	var sum, total float64
	for i, v := range values {
		sum += v * weights[i]
		total += weights[i]
	}
	if total == 0 {
		return nil
	}
	avg := round2(sum / total)
	return &avg
}
