/*
 * @module api/controllers/config_controller
 * @description 配置管理控制器，提供校验配置查看、重载与版本记录接口
 * @architecture RESTful API架构
 * @documentReference ai_docs/validation_engine_config.md
 * @stateFlow HTTP请求 -> 控制器 -> 配置管理器
 * @rules 返回配置时隐藏口令；重载失败时保留旧配置并返回错误
 * @dependencies github.com/go-chi/render
 * @refs service/config/config_manager.go
 */

package controllers

import (
	"dataquality-service/service/config"
	"net/http"

	"github.com/go-chi/render"
)

// ConfigManager 配置管理能力
type ConfigManager interface {
	Current() *config.EngineConfig
	Reload(source string) error
	History() []config.ConfigVersion
}

// ConfigController 配置控制器
type ConfigController struct {
	manager ConfigManager
}

// NewConfigController 创建配置控制器实例
func NewConfigController(manager ConfigManager) *ConfigController {
	return &ConfigController{manager: manager}
}

const maskedSecret = "******"

// GetConfig 获取当前配置
// @Summary 获取当前校验配置
// @Description 返回当前生效的配置快照，口令字段已隐藏
// @Tags 系统配置
// @Produce json
// @Success 200 {object} APIResponse{data=config.EngineConfig}
// @Router /config [get]
func (c *ConfigController) GetConfig(w http.ResponseWriter, r *http.Request) {
	snapshot := *c.manager.Current()
	if snapshot.Remote.Password != "" {
		snapshot.Remote.Password = maskedSecret
	}
	if snapshot.Redis.Password != "" {
		snapshot.Redis.Password = maskedSecret
	}
	render.JSON(w, r, SuccessResponse("获取配置成功", snapshot))
}

// ReloadConfig 重新加载配置
// @Summary 重新加载配置
// @Description 从配置文件重新加载，验证失败时保留旧配置
// @Tags 系统配置
// @Produce json
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Router /config/reload [post]
func (c *ConfigController) ReloadConfig(w http.ResponseWriter, r *http.Request) {
	if err := c.manager.Reload("api"); err != nil {
		writeError(w, r, BadRequestResponse("配置重载失败", err))
		return
	}
	render.JSON(w, r, SuccessResponse("配置重载成功", map[string]interface{}{
		"entities": len(c.manager.Current().Entities),
	}))
}

// GetVersions 配置版本记录
// @Summary 配置版本记录
// @Tags 系统配置
// @Produce json
// @Success 200 {object} APIResponse{data=[]config.ConfigVersion}
// @Router /config/versions [get]
func (c *ConfigController) GetVersions(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("获取配置版本成功", c.manager.History()))
}
