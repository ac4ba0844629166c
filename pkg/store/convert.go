package store

import (
	"encoding/json"

	"gorm.io/datatypes"

	"chapterwise/pkg/domain"
)

func progressFromModel(m ProgressModel) domain.Progress {
	p := domain.Progress{
		BookID:         m.BookID,
		CurrentChapter: m.CurrentChapter,
		TotalChapters:  m.TotalChapters,
		UpdatedAt:      m.UpdatedAt,
	}
	p.ProgressPercentage = p.Percentage()
	return p
}

func questionToModel(q domain.Question) (QuestionModel, error) {
	sources, err := encodeSources(q.Sources)
	if err != nil {
		return QuestionModel{}, err
	}
	return QuestionModel{
		ID:            q.ID,
		UserID:        q.UserID,
		BookID:        q.BookID,
		Text:          q.Text,
		ChapterLimit:  q.ChapterLimit,
		AnswerText:    q.AnswerText,
		Status:        string(q.Status),
		FailureReason: string(q.FailureReason),
		ErrorMessage:  q.ErrorMessage,
		Sources:       sources,
		CreatedAt:     q.CreatedAt,
		UpdatedAt:     q.UpdatedAt,
	}, nil
}

func questionFromModel(m QuestionModel) domain.Question {
	q := domain.Question{
		ID:            m.ID,
		UserID:        m.UserID,
		BookID:        m.BookID,
		Text:          m.Text,
		ChapterLimit:  m.ChapterLimit,
		AnswerText:    m.AnswerText,
		Status:        domain.QuestionStatus(m.Status),
		FailureReason: domain.FailureReason(m.FailureReason),
		ErrorMessage:  m.ErrorMessage,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if len(m.Sources) > 0 {
		// A corrupt column only loses the citation list.
		_ = json.Unmarshal(m.Sources, &q.Sources)
	}
	return q
}

func encodeSources(sources []domain.Source) (datatypes.JSON, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(sources)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func chapterFromModel(m ChapterModel) domain.Chapter {
	return domain.Chapter{ID: m.ID, BookID: m.BookID, Order: m.Position, Name: m.Name, Content: m.Content}
}
