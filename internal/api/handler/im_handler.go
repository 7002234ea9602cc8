package handler

import (
	"Parley/internal/api/dto"
	"Parley/internal/pkg/consts"
	"Parley/internal/pkg/response"
	"Parley/internal/pkg/util"
	"Parley/internal/service"

	"github.com/gin-gonic/gin"
)

type IMHandler struct {
	convService    service.ConversationService
	statusService  service.StatusService
	receiptService service.ReceiptService
}

func NewIMHandler(convService service.ConversationService, statusService service.StatusService, receiptService service.ReceiptService) *IMHandler {
	return &IMHandler{
		convService:    convService,
		statusService:  statusService,
		receiptService: receiptService,
	}
}

// CreateConversation 创建会话并发送第一条消息
func (s *IMHandler) CreateConversation(c *gin.Context) {
	var req dto.CreateConversationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	res, err := s.convService.CreateConversation(c, c.GetString(consts.UserID), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// SendMessage 发送消息接口
func (s *IMHandler) SendMessage(c *gin.Context) {
	var req dto.SendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	res, err := s.convService.SendMessage(c, c.Param("cid"), c.GetString(consts.UserID), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// MarkDelivered 客户端收到消息后回执
func (s *IMHandler) MarkDelivered(c *gin.Context) {
	req, ok := bindMessagePath(c)
	if !ok {
		return
	}
	if err := s.statusService.MarkDelivered(c, req.ConversationID, req.MessageID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// MarkRead 单条消息已读
func (s *IMHandler) MarkRead(c *gin.Context) {
	req, ok := bindMessagePath(c)
	if !ok {
		return
	}
	if err := s.statusService.MarkRead(c, req.ConversationID, req.MessageID, c.GetString(consts.UserID)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// MarkConversationRead 批量已读并清零未读数
func (s *IMHandler) MarkConversationRead(c *gin.Context) {
	var req dto.MarkConversationReadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	res, err := s.receiptService.MarkConversationRead(c, c.Param("cid"), c.GetString(consts.UserID), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

func (s *IMHandler) LeaveConversation(c *gin.Context) {
	if err := s.convService.LeaveConversation(c, c.Param("cid"), c.GetString(consts.UserID)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

func (s *IMHandler) RemoveParticipant(c *gin.Context) {
	if err := s.convService.RemoveParticipant(c, c.Param("cid"), c.GetString(consts.UserID), c.Param("uid")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

func (s *IMHandler) UpdateGroupInfo(c *gin.Context) {
	var req dto.UpdateGroupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	if err := s.convService.UpdateGroupInfo(c, c.Param("cid"), c.GetString(consts.UserID), &req); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// SetFlag 归档、免打扰、删除
func (s *IMHandler) SetFlag(c *gin.Context) {
	var req dto.SetFlagReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	if err := s.convService.SetUserFlag(c, c.Param("cid"), c.GetString(consts.UserID), req.Flag, *req.Value); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

func (s *IMHandler) GetReadReceiptSetting(c *gin.Context) {
	enabled, err := s.receiptService.ReadReceiptsEnabled(c, c.GetString(consts.UserID))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.ReadReceiptSettingResp{Enabled: enabled})
}

func (s *IMHandler) SetReadReceiptSetting(c *gin.Context) {
	var req dto.ReadReceiptSettingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	if err := s.receiptService.SetReadReceipts(c, c.GetString(consts.UserID), *req.Enabled); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.ReadReceiptSettingResp{Enabled: *req.Enabled})
}

func bindMessagePath(c *gin.Context) (*dto.MessagePathReq, bool) {
	req := &dto.MessagePathReq{ConversationID: c.Param("cid"), MessageID: c.Param("mid")}
	if err := util.ValidateDTO(req); err != nil {
		response.Fail(c, response.BadRequest, err.Error())
		return nil, false
	}
	return req, true
}
