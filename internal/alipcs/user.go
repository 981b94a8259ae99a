package alipcs

import "context"

// UserInfo 获取当前登录用户的基本信息和空间用量
func (c *Client) UserInfo(ctx context.Context) (*User, error) {
	var space userInfoResponse
	if err := c.call(ctx, nodePersonalInfo, map[string]any{}, &space, callOptions{}); err != nil {
		return nil, err
	}

	var user userResponse
	if err := c.call(ctx, nodeUser, map[string]any{}, &user, callOptions{}); err != nil {
		return nil, err
	}

	return &User{
		UserID:    user.UserID,
		UserName:  user.UserName,
		NickName:  user.NickName,
		Phone:     user.Phone,
		TotalSize: space.PersonalSpaceInfo.TotalSize,
		UsedSize:  space.PersonalSpaceInfo.UsedSize,
	}, nil
}
