package service

import (
	"sort"

	"github.com/noah-isme/campus-results-api/internal/models"
)

// releasedStatuses are the states feeding transcripts and analytics.
var releasedStatuses = []models.ResultStatus{models.ResultStatusPublished, models.ResultStatusArchived}

// buildTranscriptSubjects groups released rows per subject and computes each
// subject average on the /20 axis plus the coefficient-weighted general
// average. Superseded originals must already be filtered out.
func buildTranscriptSubjects(results []models.Result, subjects map[string]models.Subject) ([]models.TranscriptSubject, *float64) {
	type group struct {
		subject models.TranscriptSubject
		sum     float64
	}
	groups := make(map[string]*group)
	var order []string
	for _, r := range results {
		g, ok := groups[r.SubjectID]
		if !ok {
			g = &group{subject: models.TranscriptSubject{SubjectID: r.SubjectID, Coefficient: r.Coefficient}}
			if sub, known := subjects[r.SubjectID]; known {
				g.subject.SubjectName = sub.Name
				g.subject.SubjectCode = sub.Code
				if sub.Coefficient != nil && *sub.Coefficient > 0 {
					g.subject.Coefficient = *sub.Coefficient
				}
			}
			if g.subject.Coefficient <= 0 {
				g.subject.Coefficient = 1
			}
			groups[r.SubjectID] = g
			order = append(order, r.SubjectID)
		}
		if r.MaxScore > 0 {
			g.sum += r.Score / r.MaxScore * 20
		}
		g.subject.Evaluations = append(g.subject.Evaluations, models.EvaluationSnapshot{
			ResultID:        r.ID,
			EvaluationType:  r.EvaluationType,
			EvaluationTitle: r.EvaluationTitle,
			ExamPeriod:      r.ExamPeriod,
			Score:           r.Score,
			MaxScore:        r.MaxScore,
			NormalizedScore: scoreOn20(r),
			Coefficient:     r.Coefficient,
			GradeBand:       r.GradeBand,
			TeacherRemarks:  r.TeacherRemarks,
		})
	}

	out := make([]models.TranscriptSubject, 0, len(order))
	averages := make([]float64, 0, len(order))
	weights := make([]float64, 0, len(order))
	for _, id := range order {
		g := groups[id]
		g.subject.Average = round2(g.sum / float64(len(g.subject.Evaluations)))
		out = append(out, g.subject)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SubjectName != out[j].SubjectName {
			return out[i].SubjectName < out[j].SubjectName
		}
		return out[i].SubjectID < out[j].SubjectID
	})
	for _, s := range out {
		averages = append(averages, s.Average)
		weights = append(weights, s.Coefficient)
	}
	return out, weightedAverage(averages, weights)
}

func subjectIDs(results []models.Result) []string {
	seen := make(map[string]struct{}, len(results))
	ids := make([]string, 0, len(results))
	for _, r := range results {
		if _, ok := seen[r.SubjectID]; ok {
			continue
		}
		seen[r.SubjectID] = struct{}{}
		ids = append(ids, r.SubjectID)
	}
	return ids
}
