package api

import (
	"fmt"
	"strconv"

	"volunteerhub/internal/api/apierr"
	"volunteerhub/internal/service"

	"github.com/gin-gonic/gin"
)

// pathID 解析路径中的 :id，非法时直接返回 400。
func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		apierr.Abort(c, service.KindBadRequest, fmt.Sprintf("invalid id %q", c.Param("id")))
		return 0, false
	}
	return uint(id), true
}

// queryUint 解析可选的无符号整数查询参数，缺省为 0。
func queryUint(c *gin.Context, name string) (uint, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		apierr.Abort(c, service.KindBadRequest, fmt.Sprintf("invalid %s %q", name, raw))
		return 0, false
	}
	return uint(v), true
}

// pageQuery 读取 limit / offset。
func pageQuery(c *gin.Context) (service.Page, bool) {
	limit, ok := queryUint(c, "limit")
	if !ok {
		return service.Page{}, false
	}
	offset, ok := queryUint(c, "offset")
	if !ok {
		return service.Page{}, false
	}
	return service.Page{Limit: int(limit), Offset: int(offset)}, true
}

// bindJSON 严格解析请求体，失败时返回 400。
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		apierr.BindFailed(c, err)
		return false
	}
	return true
}

type statusRequest struct {
	Status string `json:"status"`
}
