package middleware

import (
	"github.com/gin-gonic/gin"
)

// 配置选项
type RouteOpt struct {
	IsAuth bool
}

// Routes 封装路由注册，IsAuth 的路由挂上 auth 中间件
type Routes struct {
	r    gin.IRoutes
	auth gin.HandlerFunc
}

func NewRoutes(r gin.IRoutes, auth gin.HandlerFunc) *Routes {
	return &Routes{r: r, auth: auth}
}

func (rt *Routes) chain(h gin.HandlerFunc, opt RouteOpt) []gin.HandlerFunc {
	if opt.IsAuth && rt.auth != nil {
		return []gin.HandlerFunc{rt.auth, h}
	}
	return []gin.HandlerFunc{h}
}

// 封装 GET
func (rt *Routes) GET(path string, h gin.HandlerFunc, opt RouteOpt) {
	rt.r.GET(path, rt.chain(h, opt)...)
}

// 封装 POST
func (rt *Routes) POST(path string, h gin.HandlerFunc, opt RouteOpt) {
	rt.r.POST(path, rt.chain(h, opt)...)
}

func (rt *Routes) PATCH(path string, h gin.HandlerFunc, opt RouteOpt) {
	rt.r.PATCH(path, rt.chain(h, opt)...)
}

func (rt *Routes) DELETE(path string, h gin.HandlerFunc, opt RouteOpt) {
	rt.r.DELETE(path, rt.chain(h, opt)...)
}
