package core

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (p *Pages) courses(c *gin.Context) {
	data := PageData{Layout: p.layout(c, "Courses", "courses")}
	list, err := p.backend.ListCourses(c.Request.Context(), bearer(c))
	if err != nil {
		p.fail(c, "courses.html", data, err)
		return
	}
	data.Data = list
	p.render(c, http.StatusOK, "courses.html", data)
}

func (p *Pages) course(c *gin.Context) {
	data := PageData{Layout: p.layout(c, "Course", "courses")}
	id, ok := pathID(c)
	if !ok {
		p.fail(c, "course.html", data, ErrNotFound)
		return
	}
	course, err := p.backend.GetCourse(c.Request.Context(), bearer(c), id)
	if err != nil {
		p.fail(c, "course.html", data, err)
		return
	}
	data.Title = course.Name
	data.Data = course
	p.render(c, http.StatusOK, "course.html", data)
}

func (p *Pages) courseCreate(c *gin.Context) {
	var form courseForm
	if !p.bindForm(c, &form, "/courses") {
		return
	}
	course, err := p.backend.CreateCourse(c.Request.Context(), bearer(c), form.input())
	p.afterWrite(c, "/courses", "Course \""+course.Name+"\" created.", err)
}

func (p *Pages) courseUpdate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		p.notFound(c)
		return
	}
	back := "/courses/" + strconv.FormatInt(id, 10)
	var form courseUpdateForm
	if !p.bindForm(c, &form, back) {
		return
	}
	_, err := p.backend.UpdateCourse(c.Request.Context(), bearer(c), id, form.input())
	p.afterWrite(c, back, "Course updated.", err)
}

func (p *Pages) courseDelete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		p.notFound(c)
		return
	}
	err := p.backend.DeleteCourse(c.Request.Context(), bearer(c), id)
	p.afterWrite(c, "/courses", "Course deleted.", err)
}

func (p *Pages) groups(c *gin.Context) {
	data := PageData{Layout: p.layout(c, "Groups", "groups")}
	list, err := p.backend.ListGroups(c.Request.Context(), bearer(c))
	if err != nil {
		p.fail(c, "groups.html", data, err)
		return
	}
	data.Data = list
	p.render(c, http.StatusOK, "groups.html", data)
}

func (p *Pages) group(c *gin.Context) {
	data := PageData{Layout: p.layout(c, "Group", "groups")}
	id, ok := pathID(c)
	if !ok {
		p.fail(c, "group.html", data, ErrNotFound)
		return
	}
	group, err := p.backend.GetGroup(c.Request.Context(), bearer(c), id)
	if err != nil {
		p.fail(c, "group.html", data, err)
		return
	}
	data.Title = group.Name
	data.Data = group
	p.render(c, http.StatusOK, "group.html", data)
}

func (p *Pages) groupCreate(c *gin.Context) {
	var form groupForm
	if !p.bindForm(c, &form, "/groups") {
		return
	}
	group, err := p.backend.CreateGroup(c.Request.Context(), bearer(c), form.input())
	p.afterWrite(c, "/groups", "Group \""+group.Name+"\" created.", err)
}

func (p *Pages) groupUpdate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		p.notFound(c)
		return
	}
	back := "/groups/" + strconv.FormatInt(id, 10)
	var form groupUpdateForm
	if !p.bindForm(c, &form, back) {
		return
	}
	_, err := p.backend.UpdateGroup(c.Request.Context(), bearer(c), id, form.input())
	p.afterWrite(c, back, "Group updated.", err)
}

func (p *Pages) groupDelete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		p.notFound(c)
		return
	}
	err := p.backend.DeleteGroup(c.Request.Context(), bearer(c), id)
	p.afterWrite(c, "/groups", "Group deleted.", err)
}

func (p *Pages) progress(c *gin.Context) {
	data := PageData{Layout: p.layout(c, "Progress", "progress")}
	list, err := p.backend.ListProgress(c.Request.Context(), bearer(c))
	if err != nil {
		p.fail(c, "progress.html", data, err)
		return
	}
	data.Data = list
	p.render(c, http.StatusOK, "progress.html", data)
}

func (p *Pages) users(c *gin.Context) {
	data := PageData{Layout: p.layout(c, "Users", "users")}
	list, err := p.backend.ListUsers(c.Request.Context(), bearer(c))
	if err != nil {
		p.fail(c, "users.html", data, err)
		return
	}
	data.Data = list
	p.render(c, http.StatusOK, "users.html", data)
}

func (p *Pages) user(c *gin.Context) {
	data := PageData{Layout: p.layout(c, "User", "users")}
	id, ok := pathID(c)
	if !ok {
		p.fail(c, "user.html", data, ErrNotFound)
		return
	}
	u, err := p.backend.GetUser(c.Request.Context(), bearer(c), id)
	if err != nil {
		p.fail(c, "user.html", data, err)
		return
	}
	data.Title = u.Name()
	data.Data = u
	p.render(c, http.StatusOK, "user.html", data)
}

func (p *Pages) userCreate(c *gin.Context) {
	var form userForm
	if !p.bindForm(c, &form, "/users") {
		return
	}
	u, err := p.backend.CreateUser(c.Request.Context(), bearer(c), form.input())
	p.afterWrite(c, "/users", "User \""+u.Username+"\" created.", err)
}
