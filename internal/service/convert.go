package service

import (
	"Parley/internal/api/dto"
	"Parley/internal/model"
	"Parley/internal/pkg/convid"
	"strings"

	"github.com/jinzhu/copier"
)

func toMessageDTO(m *model.Message) *dto.MessageDTO {
	if m == nil {
		return nil
	}
	out := &dto.MessageDTO{}
	_ = copier.Copy(out, m)
	return out
}

func toRefDTO(ref model.MessageRef) dto.MessageRefDTO {
	return dto.MessageRefDTO{
		State:   string(ref.State),
		LocalID: ref.LocalID,
		StoreID: ref.StoreID,
		Message: toMessageDTO(ref.Message),
	}
}

// validUserID 用户ID会作为文档字段路径和单聊ID的一部分
func validUserID(id string) bool {
	return id != "" && len(id) <= 128 &&
		!strings.ContainsAny(id, ".") &&
		!strings.HasPrefix(id, "$") &&
		!strings.Contains(id, convid.Separator)
}
